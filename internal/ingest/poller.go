// Package ingest waits for uploaded files to finish provider-side processing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubuygold/studygen/internal/metrics"
	"github.com/ubuygold/studygen/internal/provider"
)

const (
	DefaultInterval = time.Second
	DefaultMaxPolls = 120
)

var (
	// ErrFileProcessingFailed means the provider gave up on the file; it will never become active.
	ErrFileProcessingFailed = errors.New("file processing failed")
	// ErrIngestionTimedOut means the file was still processing after the poll budget ran out.
	ErrIngestionTimedOut = errors.New("file ingestion timed out")
)

// Poller polls file status at a fixed interval with a bounded number of polls.
type Poller struct {
	client   provider.Client
	interval time.Duration
	maxPolls int
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. Non-positive values select the defaults.
func NewPoller(client provider.Client, interval time.Duration, maxPolls int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	return &Poller{
		client:   client,
		interval: interval,
		maxPolls: maxPolls,
		logger:   logger.With("component", "ingest"),
		sleep:    sleepContext,
	}
}

// WaitActive blocks until file is active and returns its latest handle. apiKey
// must be the key that uploaded the file, since files are scoped to it.
func (p *Poller) WaitActive(ctx context.Context, apiKey string, file *provider.File) (*provider.File, error) {
	if done, err := terminal(file); done {
		return file, err
	}

	current := file
	for poll := 1; poll <= p.maxPolls; poll++ {
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, err
		}

		metrics.FilePollsTotal.Inc()
		next, err := p.client.GetFile(ctx, apiKey, file.Name)
		if err != nil {
			if provider.IsCapacity(err) {
				p.logger.Warn("File status poll was rate limited, will poll again", "file", file.Name, "poll", poll)
				continue
			}
			return nil, fmt.Errorf("polling status of %s: %w", file.Name, err)
		}
		current = next

		if done, err := terminal(current); done {
			if err != nil {
				p.logger.Error("Uploaded file failed processing", "file", file.Name, "poll", poll, "reason", current.Error)
				return nil, err
			}
			p.logger.Debug("Uploaded file is active", "file", file.Name, "polls", poll)
			return current, nil
		}
	}

	p.logger.Error("Uploaded file did not become active in time",
		"file", file.Name, "polls", p.maxPolls, "state", current.State.String())
	return nil, fmt.Errorf("%w: %s still %s after %d polls", ErrIngestionTimedOut, file.Name, current.State, p.maxPolls)
}

func terminal(f *provider.File) (bool, error) {
	switch f.State {
	case provider.FileStateActive:
		return true, nil
	case provider.FileStateFailed:
		if f.Error != "" {
			return true, fmt.Errorf("%w: %s", ErrFileProcessingFailed, f.Error)
		}
		return true, ErrFileProcessingFailed
	default:
		return false, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
