package service

import (
	"time"

	"github.com/okian/casve/internal/adapters/repository"
	"github.com/okian/casve/internal/domain/dedupe"
	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects an opened store. Start opens one from the store config
// otherwise.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithStoreConfig selects the backend opened by Start.
func WithStoreConfig(cfg repository.Config, opts ...repository.Option) Option {
	return func(s *Service) {
		s.storeCfg = cfg
		s.storeOpts = opts
	}
}

// WithJournal injects the record sink. Start creates a file sink under the
// log directory otherwise.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogDir sets where the file sink writes its daily files.
func WithLogDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.logDir = dir
		}
	}
}

// WithJournalQueueSize bounds the file sink queue.
func WithJournalQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.journalQueueSize = n
		}
	}
}

// WithDeduper injects the activity event id cache.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

// WithDedupeTTL sets how long activity event ids are remembered.
func WithDedupeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.dedupeTTL = ttl
		}
	}
}

// WithCompleter sets the upstream model and the name it is recorded under.
func WithCompleter(c generation.Completer, model string) Option {
	return func(s *Service) {
		s.completer = c
		s.model = model
	}
}

// WithGeneratorOptions passes extra options to the option generator.
func WithGeneratorOptions(opts ...generation.Option) Option {
	return func(s *Service) { s.genOpts = append(s.genOpts, opts...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
