package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
)

// RegisterInput creates the ledger for an authenticated user.
type RegisterInput struct {
	AccountID   uuid.UUID
	PhoneNumber string
	CountryCode string
}

// AccountView is the ledger as exposed to the app.
type AccountView struct {
	ID                uuid.UUID  `json:"id"`
	PhoneNumber       string     `json:"phoneNumber"`
	CountryCode       string     `json:"countryCode"`
	PlanID            string     `json:"planId"`
	MinutesIncluded   int        `json:"minutesIncluded"`
	MinutesRemaining  int        `json:"minutesRemaining"`
	MinutesConsumed   int        `json:"minutesConsumed"`
	VoiceAgentEnabled bool       `json:"voiceAgentEnabled"`
	VirtualNumber     *string    `json:"virtualNumber,omitempty"`
	RenewalDate       *time.Time `json:"renewalDate,omitempty"`
}

// CallView is one entry of the call history.
type CallView struct {
	ID              uuid.UUID  `json:"id"`
	ProviderCallID  string     `json:"providerCallId"`
	CallerName      string     `json:"callerName,omitempty"`
	CallerNumber    string     `json:"callerNumber,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds int        `json:"durationSeconds"`
	BilledMinutes   int        `json:"billedMinutes"`
	Summary         string     `json:"summary,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	RecordingURL    *string    `json:"recordingUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// CallPage is a page of call history.
type CallPage struct {
	Calls      []CallView `json:"calls"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

func toAccountView(account *models.Account, number *models.VirtualNumber) *AccountView {
	view := &AccountView{
		ID:                account.ID,
		PhoneNumber:       account.PhoneNumber,
		CountryCode:       account.CountryCode,
		PlanID:            account.PlanID,
		MinutesIncluded:   account.MinutesIncluded,
		MinutesRemaining:  account.MinutesRemaining,
		MinutesConsumed:   account.MinutesConsumed,
		VoiceAgentEnabled: account.VoiceAgentEnabled,
		RenewalDate:       account.RenewalDate,
	}
	if number != nil {
		phone := number.PhoneNumber
		view.VirtualNumber = &phone
	}
	return view
}

func toCallView(record models.CallRecord) CallView {
	url := record.ArchivedRecordingURL
	if url == nil {
		url = record.RecordingURL
	}
	return CallView{
		ID:              record.ID,
		ProviderCallID:  record.ProviderCallID,
		CallerName:      record.CallerName,
		CallerNumber:    record.CallerNumber,
		EndedAt:         record.EndedAt,
		DurationSeconds: record.DurationSeconds,
		BilledMinutes:   record.BilledMinutes,
		Summary:         record.Summary,
		Transcript:      record.Transcript,
		RecordingURL:    url,
		CreatedAt:       record.CreatedAt,
	}
}
