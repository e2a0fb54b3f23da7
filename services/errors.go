package services

import (
	"errors"
	"net/http"
)

// QuestError is a business-rule failure. It crosses the service boundary as
// a plain error value; handlers map Code/Status onto the response. Anything
// that is not a QuestError is an infrastructure failure and stays opaque.
type QuestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *QuestError) Error() string {
	return e.Message
}

var (
	ErrQuestNotFound        = &QuestError{Code: "QUEST_NOT_FOUND", Message: "Quest not found", Status: http.StatusNotFound}
	ErrQuestClosed          = &QuestError{Code: "QUEST_CLOSED", Message: "Quest is no longer recruiting", Status: http.StatusConflict}
	ErrQuestFull            = &QuestError{Code: "QUEST_FULL", Message: "Quest has no open slots", Status: http.StatusConflict}
	ErrAlreadyJoined        = &QuestError{Code: "ALREADY_JOINED", Message: "Already a member of this quest", Status: http.StatusConflict}
	ErrNotJoined            = &QuestError{Code: "NOT_JOINED", Message: "Not a member of this quest", Status: http.StatusConflict}
	ErrNotAMember           = &QuestError{Code: "NOT_A_MEMBER", Message: "Only members can post verifications", Status: http.StatusForbidden}
	ErrVerificationNotFound = &QuestError{Code: "VERIFICATION_NOT_FOUND", Message: "Verification not found", Status: http.StatusNotFound}
	ErrInvalidImageType     = &QuestError{Code: "INVALID_IMAGE_TYPE", Message: "Only jpg, jpeg, png, gif and webp images are accepted", Status: http.StatusBadRequest}
)

func validationError(msg string) *QuestError {
	return &QuestError{Code: "VALIDATION", Message: msg, Status: http.StatusBadRequest}
}

// AsQuestError unwraps a business failure out of a transaction error.
func AsQuestError(err error) (*QuestError, bool) {
	var qe *QuestError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
