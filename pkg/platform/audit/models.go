package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "credline/pkg/domain"
)

// EventCategory classifies ledger events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that change what a subject is entitled
	// to: identity verification, credentials, loans. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that restrict a subject or revoke
	// something previously granted. Feed alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Component names the ledger component that emitted an event.
type Component string

const (
	ComponentIdentity   Component = "identity"
	ComponentScoring    Component = "scoring"
	ComponentCredential Component = "credential"
	ComponentLending    Component = "lending"
)

// EventType is the name of a domain event. Names match the ledger's public
// event vocabulary so external observers can key on them directly.
type EventType string

const (
	// Identity events
	EventIdentityCreated          EventType = "IdentityCreated"
	EventDocumentAdded            EventType = "DocumentAdded"
	EventIdentityVerified         EventType = "IdentityVerified"
	EventVerificationLevelUpdated EventType = "VerificationLevelUpdated"

	// Scoring events
	EventScoreUpdated    EventType = "ScoreUpdated"
	EventUserBlacklisted EventType = "UserBlacklisted"

	// Credential events
	EventSBTMinted      EventType = "SBTMinted"
	EventSBTRevoked     EventType = "SBTRevoked"
	EventSBTRenewed     EventType = "SBTRenewed"
	EventApproval       EventType = "Approval"
	EventApprovalForAll EventType = "ApprovalForAll"

	// Lending events
	EventLoanRequested     EventType = "LoanRequested"
	EventInstallmentPaid   EventType = "InstallmentPaid"
	EventLoanRepaid        EventType = "LoanRepaid"
	EventLiquidityDeposit  EventType = "LiquidityDeposited"
	EventLiquidityWithdraw EventType = "LiquidityWithdrawn"
	EventFundsCredited     EventType = "FundsCredited"
)

var eventCategories = map[EventType]EventCategory{
	EventIdentityCreated:          CategoryCompliance,
	EventIdentityVerified:         CategoryCompliance,
	EventVerificationLevelUpdated: CategoryCompliance,
	EventSBTMinted:                CategoryCompliance,
	EventSBTRenewed:               CategoryCompliance,
	EventLoanRequested:            CategoryCompliance,
	EventLoanRepaid:               CategoryCompliance,

	EventUserBlacklisted: CategorySecurity,
	EventSBTRevoked:      CategorySecurity,
	EventFundsCredited:   CategorySecurity,

	EventDocumentAdded:     CategoryOperations,
	EventScoreUpdated:      CategoryOperations,
	EventApproval:          CategoryOperations,
	EventApprovalForAll:    CategoryOperations,
	EventInstallmentPaid:   CategoryOperations,
	EventLiquidityDeposit:  CategoryOperations,
	EventLiquidityWithdraw: CategoryOperations,
}

// Category returns the EventCategory for this event type.
// Unknown types default to CategoryOperations.
func (t EventType) Category() EventCategory {
	if cat, ok := eventCategories[t]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one entry in the append-only domain event log. Attributes carry the
// event payload as strings so every sink (memory, Postgres, Kafka) can store
// it without knowing the event's shape.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       EventType         `json:"type"`
	Category   EventCategory     `json:"category"`
	Component  Component         `json:"component"`
	Subject    id.Address        `json:"subject,omitempty"`
	Actor      id.Address        `json:"actor,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	RequestID  string            `json:"request_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns a payload attribute, or "" when absent.
func (e Event) Attr(key string) string {
	return e.Attributes[key]
}

// Store is the event log. Append must honour the transaction carried by ctx:
// appended events become visible only if the transaction commits.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject id.Address) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
