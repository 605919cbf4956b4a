package sessions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/patungan-backend/pkg/pagination"
)

// CreateSessionInput carries the factory-declared terms of a new session.
type CreateSessionInput struct {
	ProductID               uuid.UUID
	FactoryID               uuid.UUID
	TargetMOQ               int
	BasePrice               decimal.Decimal
	Tier1Price              decimal.Decimal
	Tier2Price              decimal.Decimal
	Tier3Price              decimal.Decimal
	Currency                enums.Currency
	StartTime               time.Time
	EndTime                 time.Time
	EstimatedCompletionDate *time.Time
}

// JoinInput is one buyer's commitment request.
type JoinInput struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// JoinResult returns the created participant plus the post-join aggregates.
type JoinResult struct {
	Participant *models.SessionParticipant
	Stats       StatsDTO
}

// StatsDTO reports pool progress. TotalParticipants counts humans only;
// TotalQuantity and MOQProgress include synthetic commitments because bots
// count toward the target.
type StatsDTO struct {
	SessionID         uuid.UUID           `json:"sessionId"`
	Status            enums.SessionStatus `json:"status"`
	CurrentTier       enums.PriceTier     `json:"currentTier"`
	UnitPrice         decimal.Decimal     `json:"unitPrice"`
	TotalParticipants int                 `json:"totalParticipants"`
	TotalQuantity     int                 `json:"totalQuantity"`
	TargetMOQ         int                 `json:"targetMoq"`
	MOQProgress       float64             `json:"moqProgress"`
}

// AvailabilityDTO reports how many units of one variant remain purchasable.
// MOQProgress here excludes synthetic commitments: it is the fill ratio the
// unlock policy actually runs on.
type AvailabilityDTO struct {
	SessionID       uuid.UUID  `json:"sessionId"`
	VariantID       *uuid.UUID `json:"variantId,omitempty"`
	BaseAllocation  int        `json:"baseAllocation"`
	Multiplier      int        `json:"multiplier"`
	MaxAllowed      int        `json:"maxAllowed"`
	CurrentOrdered  int        `json:"currentOrdered"`
	Available       int        `json:"available"`
	IsLocked        bool       `json:"isLocked"`
	MOQProgress     float64    `json:"moqProgress"`
	ProgressBracket string     `json:"progressBracket"`
}

// ListParams filters the paginated session listing.
type ListParams struct {
	Status *enums.SessionStatus
	Limit  int
	Cursor string
}

// ListResult is one page of sessions plus the next cursor.
type ListResult struct {
	Items  []models.GroupSession `json:"items"`
	Cursor string                `json:"cursor,omitempty"`
}

// sessionTotals aggregates active commitments for one session.
type sessionTotals struct {
	all    int // bots included, drives MOQ and pricing
	humans int // bots excluded, drives variant allocation
	count  int // human participant count
}

func totalsOf(participants []models.SessionParticipant) sessionTotals {
	var t sessionTotals
	for _, p := range participants {
		t.all += p.Quantity
		if !p.IsBot {
			t.humans += p.Quantity
			t.count++
		}
	}
	return t
}

// variantOrdered sums non-bot quantities for one variant bucket.
func variantOrdered(participants []models.SessionParticipant, variantID *uuid.UUID) int {
	total := 0
	for _, p := range participants {
		if p.IsBot {
			continue
		}
		if !sameVariant(p.VariantID, variantID) {
			continue
		}
		total += p.Quantity
	}
	return total
}

func sameVariant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cursorFromParams(cursor string) (*pkgpagination.Cursor, error) {
	if cursor == "" {
		return nil, nil
	}
	return pkgpagination.ParseCursor(cursor)
}
