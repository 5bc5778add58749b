// Package enrich reconciles archived senders with the external identity
// service.
package enrich

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"archive_server/core/port/out"
	"archive_server/pkg/apperr"
	"archive_server/pkg/eventbus"
)

const batchPageSize = 1000

type Service struct {
	store    out.Store
	resolver out.IdentityResolver
	log      zerolog.Logger
}

func NewService(store out.Store, resolver out.IdentityResolver, log zerolog.Logger) *Service {
	return &Service{store: store, resolver: resolver, log: log}
}

// Register wires the per-message enricher onto the bus.
func (s *Service) Register(bus *eventbus.Bus) {
	bus.SubscribeNewMessage(s.OnNewMessage)
}

// OnNewMessage looks the sender up when it has no identity yet. Enrichment
// is best-effort: every failure is logged and swallowed so it can never
// abort an ingestion.
func (s *Service) OnNewMessage(ctx context.Context, ev eventbus.NewMessage) error {
	address := ev.Email.SenderAddress
	if err := s.enrichSender(ctx, address); err != nil {
		s.log.Debug().Err(err).Str("address", address).Msg("sender enrichment skipped")
	}
	return nil
}

func (s *Service) enrichSender(ctx context.Context, address string) error {
	sender, err := s.store.GetSender(ctx, address)
	if err != nil {
		return err
	}
	if sender == nil || sender.UserID != "" {
		return nil
	}
	userID, err := s.resolver.Resolve(ctx, address)
	if err != nil || userID == "" {
		return err
	}
	return s.store.CreateUser(ctx, userID, address, sender.Name)
}

// SyncAllSenders walks identity-less senders in pages, committing page by
// page, and stops as soon as a page yields no new identity: the rest are
// departed members the server will keep answering 404 for. Returns how
// many senders gained an identity.
func (s *Service) SyncAllSenders(ctx context.Context) (int, error) {
	total := 0
	for {
		senders, err := s.store.GetSendersWithoutUser(ctx, batchPageSize)
		if err != nil {
			return total, err
		}
		if len(senders) == 0 {
			return total, nil
		}
		improved := 0
		for _, sender := range senders {
			userID, err := s.resolver.Resolve(ctx, sender.Address)
			if errors.Is(err, apperr.ErrIdentityDown) {
				// Dead upstream: stop the batch, a later run retries.
				return total, err
			}
			if err != nil {
				s.log.Warn().Err(err).Str("address", sender.Address).Msg("identity lookup failed")
				continue
			}
			if userID == "" {
				continue
			}
			if err := s.store.CreateUser(ctx, userID, sender.Address, sender.Name); err != nil {
				return total, err
			}
			improved++
		}
		total += improved
		if improved == 0 {
			return total, nil
		}
	}
}
