package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sunduk/QuestMate-sub000/models"
)

func questWith(t *testing.T, svc *QuestService, hostID uint, target, maxMembers int) string {
	t.Helper()
	input := defaultQuestInput()
	input.TargetCount = target
	input.MaxMemberCount = maxMembers
	questID, err := svc.CreateQuest(hostID, input)
	assert.NoError(t, err)
	return questID
}

func memberRow(t *testing.T, questID string, userID uint) models.QuestMember {
	t.Helper()
	var quest models.Quest
	assert.NoError(t, testDb.Where("public_id = ?", questID).First(&quest).Error)
	var member models.QuestMember
	assert.NoError(t, testDb.Where("quest_id = ? AND user_id = ?", quest.ID, userID).First(&member).Error)
	return member
}

// target=3: calls 1 and 2 report not completed, call 3 reports the
// transition, call 4 keeps is_success and does not re-report it.
func TestVerifyCompletionTransition(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 3, 5)

	expected := []struct {
		count     int
		completed bool
	}{
		{1, false},
		{2, false},
		{3, true},
		{4, false},
	}

	for _, want := range expected {
		result, err := svc.CreateVerification(host.ID, questID, nil, "did it")
		assert.NoError(t, err)
		assert.Equal(t, want.count, result.CurrentCount)
		assert.Equal(t, 3, result.TargetCount)
		assert.Equal(t, want.completed, result.IsCompleted)
	}

	member := memberRow(t, questID, host.ID)
	assert.True(t, member.IsSuccess)
	assert.Equal(t, 4, member.VerificationCount)
}

func TestVerifyNotAMember(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	host := createTestUser(t, "host")
	stranger := createTestUser(t, "stranger")
	questID := questWith(t, svc, host.ID, 3, 5)

	_, err := svc.CreateVerification(stranger.ID, questID, nil, "sneaky")
	assert.ErrorIs(t, err, ErrNotAMember)

	var count int64
	testDb.Model(&models.Verification{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestVerifyInvalidImageType(t *testing.T) {
	defer clearDatabase()
	svc, store := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 3, 5)

	_, err := svc.CreateVerification(host.ID, questID, &ImageUpload{
		Filename: "malware.exe",
		Reader:   bytes.NewReader([]byte("mz")),
	}, "")
	assert.ErrorIs(t, err, ErrInvalidImageType)

	// Rejected before anything was written anywhere.
	var count int64
	testDb.Model(&models.Verification{}).Count(&count)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0, store.count())

	member := memberRow(t, questID, host.ID)
	assert.Equal(t, 0, member.VerificationCount)
}

func TestVerifyWithImage(t *testing.T) {
	defer clearDatabase()
	svc, store := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 3, 5)

	result, err := svc.CreateVerification(host.ID, questID, &ImageUpload{
		Filename: "proof.png",
		Reader:   bytes.NewReader([]byte("png-bytes")),
	}, "with photo")
	assert.NoError(t, err)
	assert.NotEmpty(t, result.ImageURL)
	assert.Equal(t, 1, store.count())

	detail, err := svc.GetQuestDetail(questID, host.ID)
	assert.NoError(t, err)
	assert.Len(t, detail.Verifications, 1)
	assert.Equal(t, result.ImageURL, detail.Verifications[0].ImageURL)
	assert.Equal(t, "with photo", detail.Verifications[0].Comment)
	assert.Equal(t, models.VerificationApproved, detail.Verifications[0].Status)
}

func TestDeleteVerificationReconciles(t *testing.T) {
	defer clearDatabase()
	svc, store := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 2, 5)

	_, err := svc.CreateVerification(host.ID, questID, nil, "one")
	assert.NoError(t, err)
	second, err := svc.CreateVerification(host.ID, questID, &ImageUpload{
		Filename: "proof.jpg",
		Reader:   bytes.NewReader([]byte("jpeg-bytes")),
	}, "two")
	assert.NoError(t, err)
	assert.True(t, second.IsCompleted)

	detail, err := svc.GetQuestDetail(questID, host.ID)
	assert.NoError(t, err)
	// Feed is newest first; the second verification carries the image.
	withImage := detail.Verifications[0]
	assert.NotEmpty(t, withImage.ImageURL)

	assert.NoError(t, svc.DeleteVerification(host.ID, questID, withImage.ID))

	member := memberRow(t, questID, host.ID)
	assert.Equal(t, 1, member.VerificationCount)
	assert.False(t, member.IsSuccess)
	assert.Equal(t, 0, store.count())
}

func TestDeleteVerificationFloorsAtZero(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 2, 5)

	_, err := svc.CreateVerification(host.ID, questID, nil, "one")
	assert.NoError(t, err)

	// Simulate a counter that already drifted to zero.
	var quest models.Quest
	assert.NoError(t, testDb.Where("public_id = ?", questID).First(&quest).Error)
	assert.NoError(t, testDb.Model(&models.QuestMember{}).
		Where("quest_id = ? AND user_id = ?", quest.ID, host.ID).
		Update("verification_count", 0).Error)

	var verification models.Verification
	assert.NoError(t, testDb.Where("quest_id = ?", quest.ID).First(&verification).Error)

	assert.NoError(t, svc.DeleteVerification(host.ID, questID, verification.ID))

	member := memberRow(t, questID, host.ID)
	assert.Equal(t, 0, member.VerificationCount)
}

// Deleting someone else's verification is indistinguishable from a miss
// and leaves the owner's progress untouched.
func TestDeleteVerificationOwnership(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	owner := createTestUser(t, "owner")
	intruder := createTestUser(t, "intruder")
	questID := questWith(t, svc, owner.ID, 3, 5)
	_, err := svc.JoinQuest(questID, intruder.ID)
	assert.NoError(t, err)

	_, err = svc.CreateVerification(owner.ID, questID, nil, "mine")
	assert.NoError(t, err)

	var verification models.Verification
	assert.NoError(t, testDb.Where("user_id = ?", owner.ID).First(&verification).Error)

	err = svc.DeleteVerification(intruder.ID, questID, verification.ID)
	assert.ErrorIs(t, err, ErrVerificationNotFound)

	member := memberRow(t, questID, owner.ID)
	assert.Equal(t, 1, member.VerificationCount)

	var count int64
	testDb.Model(&models.Verification{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestUpdateVerificationCoalesce(t *testing.T) {
	defer clearDatabase()
	svc, store := newTestService()
	host := createTestUser(t, "host")
	questID := questWith(t, svc, host.ID, 3, 5)

	_, err := svc.CreateVerification(host.ID, questID, &ImageUpload{
		Filename: "before.png",
		Reader:   bytes.NewReader([]byte("png-bytes")),
	}, "original")
	assert.NoError(t, err)

	var verification models.Verification
	assert.NoError(t, testDb.First(&verification).Error)

	// Comment-only edit keeps the image.
	comment := "edited"
	result, err := svc.UpdateVerification(host.ID, questID, verification.ID, UpdateVerificationInput{
		Comment: &comment,
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, result.ImageURL)
	assert.Equal(t, 1, store.count())

	assert.NoError(t, testDb.First(&verification, verification.ID).Error)
	assert.Equal(t, "edited", verification.Comment)
	assert.NotEmpty(t, verification.ImagePath)

	// Replacing the image drops the old blob after commit.
	result, err = svc.UpdateVerification(host.ID, questID, verification.ID, UpdateVerificationInput{
		Image: &ImageUpload{Filename: "after.jpg", Reader: bytes.NewReader([]byte("jpeg-bytes"))},
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, result.ImageURL)
	assert.Equal(t, 1, store.count())

	// Explicit removal clears the reference and the blob; the comment stays.
	result, err = svc.UpdateVerification(host.ID, questID, verification.ID, UpdateVerificationInput{
		RemoveImage: true,
	})
	assert.NoError(t, err)
	assert.Empty(t, result.ImageURL)
	assert.Equal(t, 0, store.count())

	assert.NoError(t, testDb.First(&verification, verification.ID).Error)
	assert.Equal(t, "edited", verification.Comment)
	assert.Empty(t, verification.ImagePath)

	// Editing is not a progress event.
	member := memberRow(t, questID, host.ID)
	assert.Equal(t, 1, member.VerificationCount)
}

func TestUpdateVerificationOwnership(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	owner := createTestUser(t, "owner")
	intruder := createTestUser(t, "intruder")
	questID := questWith(t, svc, owner.ID, 3, 5)
	_, err := svc.JoinQuest(questID, intruder.ID)
	assert.NoError(t, err)

	_, err = svc.CreateVerification(owner.ID, questID, nil, "mine")
	assert.NoError(t, err)

	var verification models.Verification
	assert.NoError(t, testDb.Where("user_id = ?", owner.ID).First(&verification).Error)

	comment := "hijacked"
	_, err = svc.UpdateVerification(intruder.ID, questID, verification.ID, UpdateVerificationInput{
		Comment: &comment,
	})
	assert.ErrorIs(t, err, ErrVerificationNotFound)

	assert.NoError(t, testDb.First(&verification, verification.ID).Error)
	assert.Equal(t, "mine", verification.Comment)
}

// The end-to-end scenario from the product brief: 2-person quest with a
// target of 2 check-ins.
func TestTwoMemberQuestScenario(t *testing.T) {
	defer clearDatabase()
	svc, _ := newTestService()
	h := createTestUser(t, "h")
	u1 := createTestUser(t, "u1")
	u2 := createTestUser(t, "u2")

	questID := questWith(t, svc, h.ID, 2, 2)

	detail, err := svc.JoinQuest(questID, u1.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, detail.CurrentMemberCount)

	_, err = svc.JoinQuest(questID, u2.ID)
	assert.ErrorIs(t, err, ErrQuestFull)

	first, err := svc.CreateVerification(u1.ID, questID, nil, "day 1")
	assert.NoError(t, err)
	assert.False(t, first.IsCompleted)
	assert.Equal(t, 1, first.CurrentCount)

	second, err := svc.CreateVerification(u1.ID, questID, nil, "day 2")
	assert.NoError(t, err)
	assert.True(t, second.IsCompleted)
	assert.Equal(t, 2, second.CurrentCount)

	var verification models.Verification
	assert.NoError(t, testDb.Where("user_id = ?", u1.ID).Order("id desc").First(&verification).Error)
	assert.NoError(t, svc.DeleteVerification(u1.ID, questID, verification.ID))

	member := memberRow(t, questID, u1.ID)
	assert.Equal(t, 1, member.VerificationCount)
	assert.False(t, member.IsSuccess)
}
