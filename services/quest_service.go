package services

import (
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/sunduk/QuestMate-sub000/cache"
	"github.com/sunduk/QuestMate-sub000/models"
	"github.com/sunduk/QuestMate-sub000/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const questListCacheKey = "quests:recruiting"

// QuestService owns the write path to quests, memberships and verifications.
// Every mutating operation runs as one transaction that first takes a
// FOR UPDATE lock on the quest row, so operations against the same quest are
// serialized and derived state (member count, host, success flags) never
// drifts under concurrent requests.
type QuestService struct {
	db     *gorm.DB
	files  storage.FileStore
	logger *zap.Logger
}

func NewQuestService(db *gorm.DB, files storage.FileStore, logger *zap.Logger) *QuestService {
	return &QuestService{db: db, files: files, logger: logger}
}

type CreateQuestInput struct {
	Title          string `json:"title"`
	Category       string `json:"category"`
	TargetCount    int    `json:"target_count"`
	DurationDays   int    `json:"duration_days"`
	EntryFee       int    `json:"entry_fee"`
	MaxMemberCount int    `json:"max_member_count"`
	ImageURL       string `json:"image_url"`
}

// ImageUpload decouples the engine from multipart plumbing; handlers open
// the uploaded file and hand over the name plus a reader.
type ImageUpload struct {
	Filename string
	Reader   io.Reader
}

type QuestSummary struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Category           string `json:"category"`
	DurationDays       int    `json:"duration_days"`
	EntryFee           int    `json:"entry_fee"`
	CurrentMemberCount int    `json:"current_member_count"`
	MaxMemberCount     int    `json:"max_member_count"`
	ImageURL           string `json:"image_url,omitempty"`
	Status             string `json:"status"`
}

type MemberView struct {
	UserID            uint      `json:"user_id"`
	Username          string    `json:"username"`
	Picture           string    `json:"picture"`
	IsHost            bool      `json:"is_host"`
	IsSuccess         bool      `json:"is_success"`
	VerificationCount int       `json:"verification_count"`
	JoinedAt          time.Time `json:"joined_at"`
}

type VerificationView struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	ImageURL  string    `json:"image_url,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type QuestDetail struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Category           string             `json:"category"`
	TargetCount        int                `json:"target_count"`
	DurationDays       int                `json:"duration_days"`
	EntryFee           int                `json:"entry_fee"`
	CurrentMemberCount int                `json:"current_member_count"`
	MaxMemberCount     int                `json:"max_member_count"`
	ImageURL           string             `json:"image_url,omitempty"`
	Status             string             `json:"status"`
	HostUserID         uint               `json:"host_user_id"`
	CreatedAt          time.Time          `json:"created_at"`
	IsJoined           bool               `json:"is_joined"`
	Members            []MemberView       `json:"members"`
	Verifications      []VerificationView `json:"verifications"`
}

type VerificationResult struct {
	ImageURL     string `json:"image_url,omitempty"`
	CurrentCount int    `json:"current_count"`
	TargetCount  int    `json:"target_count"`
	IsCompleted  bool   `json:"is_completed"`
}

type UpdateVerificationInput struct {
	Comment     *string
	Image       *ImageUpload
	RemoveImage bool
}

type UpdateVerificationResult struct {
	ImageURL string `json:"image_url,omitempty"`
}

func validateCreateQuestInput(in *CreateQuestInput) error {
	if in.Title == "" {
		return validationError("Title is required")
	}
	if in.TargetCount < 1 || in.TargetCount > 999 {
		return validationError("Target count must be between 1 and 999")
	}
	if in.DurationDays < 1 || in.DurationDays > 30 {
		return validationError("Duration must be between 1 and 30 days")
	}
	if in.MaxMemberCount < 1 {
		return validationError("Max member count must be at least 1")
	}
	switch in.Category {
	case "":
		in.Category = models.CategoryOther
	case models.CategoryExercise, models.CategoryStudy, models.CategoryLiving, models.CategoryOther:
	default:
		return validationError("Unknown category")
	}
	if in.EntryFee < 0 {
		return validationError("Entry fee cannot be negative")
	}
	return nil
}

// CreateQuest inserts the quest and the host membership in one transaction.
// The entry fee is recorded but never charged.
func (s *QuestService) CreateQuest(hostUserID uint, in CreateQuestInput) (string, error) {
	if err := validateCreateQuestInput(&in); err != nil {
		return "", err
	}

	quest := models.Quest{
		Title:              in.Title,
		Category:           in.Category,
		TargetCount:        in.TargetCount,
		DurationDays:       in.DurationDays,
		EntryFee:           in.EntryFee,
		MaxMemberCount:     in.MaxMemberCount,
		CurrentMemberCount: 1,
		ImageURL:           in.ImageURL,
		Status:             models.QuestStatusRecruiting,
		HostUserID:         hostUserID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&quest).Error; err != nil {
			return err
		}

		host := models.QuestMember{
			QuestID: quest.ID,
			UserID:  hostUserID,
			IsHost:  true,
		}
		return tx.Create(&host).Error
	})
	if err != nil {
		return "", err
	}

	s.invalidateListCache()
	s.logger.Info("quest_created",
		zap.String("quest_id", quest.PublicID),
		zap.Uint("host_user_id", hostUserID),
	)

	return quest.PublicID, nil
}

// lockQuest loads the quest row FOR UPDATE inside tx. Every mutating
// operation goes through here first.
func lockQuest(tx *gorm.DB, publicID string) (*models.Quest, error) {
	var quest models.Quest
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("public_id = ?", publicID).
		First(&quest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &quest, nil
}

// JoinQuest checks capacity under the quest lock, so two joiners racing for
// the last slot cannot both get in.
func (s *QuestService) JoinQuest(publicID string, userID uint) (*QuestDetail, error) {
	var detail *QuestDetail

	err := s.db.Transaction(func(tx *gorm.DB) error {
		quest, err := lockQuest(tx, publicID)
		if err != nil {
			return err
		}

		if quest.Status != models.QuestStatusRecruiting {
			return ErrQuestClosed
		}
		if quest.CurrentMemberCount >= quest.MaxMemberCount {
			return ErrQuestFull
		}

		var existing int64
		if err := tx.Model(&models.QuestMember{}).
			Where("quest_id = ? AND user_id = ?", quest.ID, userID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyJoined
		}

		member := models.QuestMember{
			QuestID: quest.ID,
			UserID:  userID,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}

		if err := tx.Model(quest).
			UpdateColumn("current_member_count", gorm.Expr("current_member_count + 1")).Error; err != nil {
			return err
		}

		// The response is assembled from this transaction, on the already
		// locked quest row. A concurrent leave that tears the quest down
		// right after the commit cannot turn a successful join into
		// QUEST_NOT_FOUND.
		quest.CurrentMemberCount++
		members, verifications, err := loadQuestRelations(tx, quest.ID)
		if err != nil {
			return err
		}
		detail = s.buildQuestDetail(quest, members, verifications, userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateListCache()
	s.logger.Info("quest_joined",
		zap.String("quest_id", publicID),
		zap.Uint("user_id", userID),
	)

	return detail, nil
}

// LeaveQuest removes the membership and, if the host left, promotes the
// earliest-joined survivor in the same transaction. The last member leaving
// tears the quest down entirely.
func (s *QuestService) LeaveQuest(publicID string, userID uint) error {
	var orphanedImages []string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		quest, err := lockQuest(tx, publicID)
		if err != nil {
			return err
		}

		var member models.QuestMember
		err = tx.Where("quest_id = ? AND user_id = ?", quest.ID, userID).
			First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotJoined
		}
		if err != nil {
			return err
		}

		wasHost := member.IsHost

		if err := tx.Delete(&member).Error; err != nil {
			return err
		}
		if err := tx.Model(quest).
			UpdateColumn("current_member_count", gorm.Expr("current_member_count - 1")).Error; err != nil {
			return err
		}

		if !wasHost {
			return nil
		}

		var successor models.QuestMember
		err = tx.Where("quest_id = ?", quest.ID).
			Order("joined_at asc, id asc").
			First(&successor).Error
		if err == nil {
			if err := tx.Model(&successor).UpdateColumn("is_host", true).Error; err != nil {
				return err
			}
			return tx.Model(quest).UpdateColumn("host_user_id", successor.UserID).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Nobody left: tear the quest down, verifications included.
		var verifications []models.Verification
		if err := tx.Where("quest_id = ?", quest.ID).Find(&verifications).Error; err != nil {
			return err
		}
		for _, v := range verifications {
			if v.ImagePath != "" {
				orphanedImages = append(orphanedImages, v.ImagePath)
			}
		}
		if err := tx.Where("quest_id = ?", quest.ID).Delete(&models.Verification{}).Error; err != nil {
			return err
		}
		return tx.Delete(quest).Error
	})
	if err != nil {
		return err
	}

	// Blob cleanup stays outside the transaction; a failure here leaks a
	// file, never a dangling DB reference.
	for _, path := range orphanedImages {
		if err := s.files.Delete(path); err != nil {
			s.logger.Warn("verification_image_delete_failed",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	s.invalidateListCache()
	s.logger.Info("quest_left",
		zap.String("quest_id", publicID),
		zap.Uint("user_id", userID),
	)

	return nil
}

// CreateVerification saves the image before the transaction (DB never
// references a blob that was not saved), then appends the verification and
// bumps the member's counter. IsCompleted is reported true only on the call
// that crosses the target.
func (s *QuestService) CreateVerification(userID uint, publicID string, image *ImageUpload, comment string) (*VerificationResult, error) {
	storedPath := ""
	if image != nil {
		var err error
		storedPath, err = s.files.Save(image.Filename, image.Reader, "verifications")
		if errors.Is(err, storage.ErrInvalidImageType) {
			return nil, ErrInvalidImageType
		}
		if err != nil {
			return nil, err
		}
	}

	result := &VerificationResult{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		quest, err := lockQuest(tx, publicID)
		if err != nil {
			return err
		}

		var member models.QuestMember
		err = tx.Where("quest_id = ? AND user_id = ?", quest.ID, userID).
			First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotAMember
		}
		if err != nil {
			return err
		}

		verification := models.Verification{
			QuestID:   quest.ID,
			UserID:    userID,
			ImagePath: storedPath,
			Comment:   comment,
			Status:    models.VerificationApproved,
		}
		if err := tx.Create(&verification).Error; err != nil {
			return err
		}

		// The member row is only ever mutated under the quest lock, so the
		// loaded counter is current.
		newCount := member.VerificationCount + 1
		completed := false
		isSuccess := member.IsSuccess
		if !member.IsSuccess && newCount >= quest.TargetCount {
			isSuccess = true
			completed = true
		}

		if err := tx.Model(&member).UpdateColumns(map[string]interface{}{
			"verification_count": newCount,
			"is_success":         isSuccess,
		}).Error; err != nil {
			return err
		}

		result.CurrentCount = newCount
		result.TargetCount = quest.TargetCount
		result.IsCompleted = completed
		return nil
	})
	if err != nil {
		if storedPath != "" {
			if delErr := s.files.Delete(storedPath); delErr != nil {
				s.logger.Warn("verification_image_delete_failed",
					zap.String("path", storedPath),
					zap.Error(delErr),
				)
			}
		}
		return nil, err
	}

	if storedPath != "" {
		if url, err := s.files.URL(storedPath); err == nil {
			result.ImageURL = url
		}
	}

	s.logger.Info("verification_created",
		zap.String("quest_id", publicID),
		zap.Uint("user_id", userID),
		zap.Int("current_count", result.CurrentCount),
		zap.Bool("completed", result.IsCompleted),
	)

	return result, nil
}

// DeleteVerification looks the row up by (id, quest, user), so deleting
// someone else's verification is indistinguishable from a miss. This is the
// one operation allowed to clear is_success.
func (s *QuestService) DeleteVerification(userID uint, publicID string, verificationID uint) error {
	imagePath := ""

	err := s.db.Transaction(func(tx *gorm.DB) error {
		quest, err := lockQuest(tx, publicID)
		if err != nil {
			return err
		}

		var verification models.Verification
		err = tx.Where("id = ? AND quest_id = ? AND user_id = ?", verificationID, quest.ID, userID).
			First(&verification).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVerificationNotFound
		}
		if err != nil {
			return err
		}

		imagePath = verification.ImagePath
		if err := tx.Delete(&verification).Error; err != nil {
			return err
		}

		var member models.QuestMember
		err = tx.Where("quest_id = ? AND user_id = ?", quest.ID, userID).
			First(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Owner already left the quest; the feed entry had no counter
			// to reconcile.
			return nil
		}
		if err != nil {
			return err
		}

		newCount := member.VerificationCount - 1
		if newCount < 0 {
			newCount = 0
		}
		isSuccess := member.IsSuccess
		if isSuccess && newCount < quest.TargetCount {
			isSuccess = false
		}

		return tx.Model(&member).UpdateColumns(map[string]interface{}{
			"verification_count": newCount,
			"is_success":         isSuccess,
		}).Error
	})
	if err != nil {
		return err
	}

	// Best-effort: the row is gone either way.
	if imagePath != "" {
		if err := s.files.Delete(imagePath); err != nil {
			s.logger.Warn("verification_image_delete_failed",
				zap.String("path", imagePath),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("verification_deleted",
		zap.String("quest_id", publicID),
		zap.Uint("user_id", userID),
		zap.Uint("verification_id", verificationID),
	)

	return nil
}

// UpdateVerification edits comment and image only. Editing is not a
// progress event; counters and success flags are untouched.
func (s *QuestService) UpdateVerification(userID uint, publicID string, verificationID uint, in UpdateVerificationInput) (*UpdateVerificationResult, error) {
	newPath := ""
	if in.Image != nil {
		var err error
		newPath, err = s.files.Save(in.Image.Filename, in.Image.Reader, "verifications")
		if errors.Is(err, storage.ErrInvalidImageType) {
			return nil, ErrInvalidImageType
		}
		if err != nil {
			return nil, err
		}
	}

	oldPath := ""
	finalPath := ""

	err := s.db.Transaction(func(tx *gorm.DB) error {
		quest, err := lockQuest(tx, publicID)
		if err != nil {
			return err
		}

		var verification models.Verification
		err = tx.Where("id = ? AND quest_id = ? AND user_id = ?", verificationID, quest.ID, userID).
			First(&verification).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVerificationNotFound
		}
		if err != nil {
			return err
		}

		oldPath = verification.ImagePath

		if in.Comment != nil {
			verification.Comment = *in.Comment
		}
		if newPath != "" {
			verification.ImagePath = newPath
		} else if in.RemoveImage {
			verification.ImagePath = ""
		}
		finalPath = verification.ImagePath

		return tx.Save(&verification).Error
	})
	if err != nil {
		if newPath != "" {
			if delErr := s.files.Delete(newPath); delErr != nil {
				s.logger.Warn("verification_image_delete_failed",
					zap.String("path", newPath),
					zap.Error(delErr),
				)
			}
		}
		return nil, err
	}

	// The replaced blob is deleted only after the commit.
	if oldPath != "" && oldPath != finalPath {
		if err := s.files.Delete(oldPath); err != nil {
			s.logger.Warn("verification_image_delete_failed",
				zap.String("path", oldPath),
				zap.Error(err),
			)
		}
	}

	result := &UpdateVerificationResult{}
	if finalPath != "" {
		if url, err := s.files.URL(finalPath); err == nil {
			result.ImageURL = url
		}
	}

	return result, nil
}

// loadQuestRelations reads the member list (host first, then join order)
// and the verification feed (newest first) inside the caller's transaction.
func loadQuestRelations(tx *gorm.DB, questID uint) ([]models.QuestMember, []models.Verification, error) {
	var members []models.QuestMember
	if err := tx.Preload("User").
		Where("quest_id = ?", questID).
		Order("is_host desc, joined_at asc, id asc").
		Find(&members).Error; err != nil {
		return nil, nil, err
	}

	var verifications []models.Verification
	if err := tx.Where("quest_id = ?", questID).
		Order("created_at desc, id desc").
		Find(&verifications).Error; err != nil {
		return nil, nil, err
	}

	return members, verifications, nil
}

// GetQuestDetail assembles quest, member list and verification feed.
// requestingUserID 0 means anonymous.
func (s *QuestService) GetQuestDetail(publicID string, requestingUserID uint) (*QuestDetail, error) {
	var quest models.Quest
	var members []models.QuestMember
	var verifications []models.Verification

	// Repeatable read pins one snapshot for all three queries. Under the
	// default read committed each statement snapshots separately, and a join
	// committing in between would show a verification whose author is
	// missing from the member list.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("public_id = ?", publicID).First(&quest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQuestNotFound
		}
		if err != nil {
			return err
		}

		members, verifications, err = loadQuestRelations(tx, quest.ID)
		return err
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}

	return s.buildQuestDetail(&quest, members, verifications, requestingUserID), nil
}

func (s *QuestService) buildQuestDetail(quest *models.Quest, members []models.QuestMember, verifications []models.Verification, requestingUserID uint) *QuestDetail {
	detail := &QuestDetail{
		ID:                 quest.PublicID,
		Title:              quest.Title,
		Category:           quest.Category,
		TargetCount:        quest.TargetCount,
		DurationDays:       quest.DurationDays,
		EntryFee:           quest.EntryFee,
		CurrentMemberCount: quest.CurrentMemberCount,
		MaxMemberCount:     quest.MaxMemberCount,
		ImageURL:           quest.ImageURL,
		Status:             quest.Status,
		HostUserID:         quest.HostUserID,
		CreatedAt:          quest.CreatedAt,
		Members:            make([]MemberView, 0, len(members)),
		Verifications:      make([]VerificationView, 0, len(verifications)),
	}

	for _, m := range members {
		if requestingUserID != 0 && m.UserID == requestingUserID {
			detail.IsJoined = true
		}
		detail.Members = append(detail.Members, MemberView{
			UserID:            m.UserID,
			Username:          m.User.Username,
			Picture:           m.User.Picture,
			IsHost:            m.IsHost,
			IsSuccess:         m.IsSuccess,
			VerificationCount: m.VerificationCount,
			JoinedAt:          m.JoinedAt,
		})
	}

	for _, v := range verifications {
		view := VerificationView{
			ID:        v.ID,
			UserID:    v.UserID,
			Comment:   v.Comment,
			Status:    v.Status,
			CreatedAt: v.CreatedAt,
		}
		if v.ImagePath != "" {
			if url, err := s.files.URL(v.ImagePath); err == nil {
				view.ImageURL = url
			}
		}
		detail.Verifications = append(detail.Verifications, view)
	}

	return detail
}

// GetQuestList returns recruiting quests, newest first, cache-aside in redis.
func (s *QuestService) GetQuestList() ([]QuestSummary, error) {
	if cache.Client != nil {
		var cached []QuestSummary
		if err := cache.Get(questListCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	var quests []models.Quest
	if err := s.db.Where("status = ?", models.QuestStatusRecruiting).
		Order("created_at desc").
		Find(&quests).Error; err != nil {
		return nil, err
	}

	summaries := make([]QuestSummary, 0, len(quests))
	for _, q := range quests {
		summaries = append(summaries, QuestSummary{
			ID:                 q.PublicID,
			Title:              q.Title,
			Category:           q.Category,
			DurationDays:       q.DurationDays,
			EntryFee:           q.EntryFee,
			CurrentMemberCount: q.CurrentMemberCount,
			MaxMemberCount:     q.MaxMemberCount,
			ImageURL:           q.ImageURL,
			Status:             q.Status,
		})
	}

	if cache.Client != nil {
		if err := cache.Set(questListCacheKey, summaries, 30*time.Second); err != nil {
			s.logger.Warn("quest_list_cache_set_failed", zap.Error(err))
		}
	}

	return summaries, nil
}

func (s *QuestService) invalidateListCache() {
	if cache.Client == nil {
		return
	}
	if err := cache.Delete(questListCacheKey); err != nil {
		s.logger.Warn("quest_list_cache_invalidate_failed", zap.Error(err))
	}
}
