package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunduk/QuestMate-sub000/models"
	"github.com/sunduk/QuestMate-sub000/services"
	"github.com/sunduk/QuestMate-sub000/utils"
	"go.uber.org/zap"
)

var questService *services.QuestService

// Init wires the lifecycle engine into the package-level handlers.
func Init(svc *services.QuestService) {
	questService = svc
}

func currentUser(c *gin.Context) (models.User, bool) {
	userInterface, exists := c.Get("user")
	if !exists {
		return models.User{}, false
	}
	user, ok := userInterface.(models.User)
	return user, ok
}

// respondServiceError maps engine failures onto the wire: business failures
// keep their code, everything else is an opaque 500.
func respondServiceError(c *gin.Context, operation string, err error) {
	if qe, ok := services.AsQuestError(err); ok {
		utils.QuestOpsCount.WithLabelValues(operation, qe.Code).Inc()
		c.JSON(qe.Status, gin.H{"error": qe.Message, "code": qe.Code})
		return
	}

	utils.ErrorCount.WithLabelValues(operation, "internal").Inc()
	utils.Logger.Error("quest_operation_failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func CreateQuest(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var input services.CreateQuestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data"})
		return
	}

	questID, err := questService.CreateQuest(user.ID, input)
	if err != nil {
		respondServiceError(c, "create_quest", err)
		return
	}

	utils.QuestOpsCount.WithLabelValues("create_quest", "ok").Inc()
	c.JSON(http.StatusCreated, gin.H{"message": "Quest created", "id": questID})
}

func GetQuests(c *gin.Context) {
	quests, err := questService.GetQuestList()
	if err != nil {
		respondServiceError(c, "list_quests", err)
		return
	}

	c.JSON(http.StatusOK, quests)
}

func GetQuestDetail(c *gin.Context) {
	requestingUserID := uint(0)
	if user, ok := currentUser(c); ok {
		requestingUserID = user.ID
	}

	detail, err := questService.GetQuestDetail(c.Param("id"), requestingUserID)
	if err != nil {
		respondServiceError(c, "quest_detail", err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func JoinQuest(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	detail, err := questService.JoinQuest(c.Param("id"), user.ID)
	if err != nil {
		respondServiceError(c, "join_quest", err)
		return
	}

	utils.QuestOpsCount.WithLabelValues("join_quest", "ok").Inc()
	c.JSON(http.StatusOK, detail)
}

func LeaveQuest(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	if err := questService.LeaveQuest(c.Param("id"), user.ID); err != nil {
		respondServiceError(c, "leave_quest", err)
		return
	}

	// No payload: the quest may not exist anymore, the caller navigates away.
	utils.QuestOpsCount.WithLabelValues("leave_quest", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "Left quest"})
}
