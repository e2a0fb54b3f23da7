package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sunduk/QuestMate-sub000/services"
	"github.com/sunduk/QuestMate-sub000/utils"
)

// imageFromForm opens the optional "image" part of a multipart request.
// Returns a nil upload when no image was sent.
func imageFromForm(c *gin.Context) (*services.ImageUpload, func(), error) {
	file, err := c.FormFile("image")
	if err != nil {
		return nil, func() {}, nil
	}

	src, err := file.Open()
	if err != nil {
		return nil, func() {}, err
	}

	return &services.ImageUpload{Filename: file.Filename, Reader: src},
		func() { src.Close() },
		nil
}

func CreateVerification(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	image, closeImage, err := imageFromForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer closeImage()

	comment := c.PostForm("comment")

	result, err := questService.CreateVerification(user.ID, c.Param("id"), image, comment)
	if err != nil {
		respondServiceError(c, "create_verification", err)
		return
	}

	utils.QuestOpsCount.WithLabelValues("create_verification", "ok").Inc()
	c.JSON(http.StatusCreated, result)
}

func UpdateVerification(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	verificationID, err := strconv.ParseUint(c.Param("verificationId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification id"})
		return
	}

	image, closeImage, err := imageFromForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer closeImage()

	input := services.UpdateVerificationInput{
		Image:       image,
		RemoveImage: c.PostForm("remove_image") == "true",
	}
	// Absent comment means "keep", not "clear".
	if comment, ok := c.GetPostForm("comment"); ok {
		input.Comment = &comment
	}

	result, err := questService.UpdateVerification(user.ID, c.Param("id"), uint(verificationID), input)
	if err != nil {
		respondServiceError(c, "update_verification", err)
		return
	}

	utils.QuestOpsCount.WithLabelValues("update_verification", "ok").Inc()
	c.JSON(http.StatusOK, result)
}

func DeleteVerification(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	verificationID, err := strconv.ParseUint(c.Param("verificationId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification id"})
		return
	}

	if err := questService.DeleteVerification(user.ID, c.Param("id"), uint(verificationID)); err != nil {
		respondServiceError(c, "delete_verification", err)
		return
	}

	utils.QuestOpsCount.WithLabelValues("delete_verification", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "Verification deleted"})
}
