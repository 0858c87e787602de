package payments

import (
	"errors"

	"github.com/consultly/consultly/app/models"
	"gorm.io/gorm"
)

// ConsultantSelector picks the servicing consultant for an engagement that
// has none yet. Selection is isolated behind this interface so the policy
// can change without touching transactional logic. Returning (nil, nil)
// means no consultant is available; the order then proceeds unassigned and
// commission accrual is skipped.
type ConsultantSelector interface {
	SelectActiveConsultant(repo Repository) (*models.User, error)
}

// FirstActiveSelector assigns the lowest-id active consultant. The upstream
// behavior amounted to an arbitrary pick; a deterministic one keeps tests
// and reassignment audits sane until a real load-balancing policy lands.
type FirstActiveSelector struct{}

func (FirstActiveSelector) SelectActiveConsultant(repo Repository) (*models.User, error) {
	consultants, err := repo.FindActiveConsultants()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(consultants) == 0 {
		return nil, nil
	}
	return &consultants[0], nil
}
