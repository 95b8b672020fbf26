package ports

import "github.com/lumenwallet/custody/internal/core/domain"

type RepoManager interface {
	OfflineStore() domain.OfflineStore
	ScheduledPayments() domain.ScheduledPaymentRepository
	Close()
}
