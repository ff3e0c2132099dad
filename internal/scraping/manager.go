package scraping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kikokaraba/srei-sub000/config"
	"github.com/kikokaraba/srei-sub000/internal/models"
	"github.com/kikokaraba/srei-sub000/internal/processor"
)

// spider lines carry whole result pages
const maxMessageSize = 8 * 1024 * 1024

// PassRunner consumes the batches of one scrape pass
type PassRunner interface {
	ProcessPass(ctx context.Context, source string, batches <-chan models.Batch, opts processor.PassOptions) (*models.ScrapePass, error)
}

// SpiderManager runs the external spider process for a source and feeds its
// output into a scrape pass
type SpiderManager struct {
	logger  *logrus.Logger
	command []string
	runner  PassRunner
}

// SpiderParams is written to the spider's stdin
type SpiderParams struct {
	Source   string `json:"source"`
	MaxPages *int   `json:"max_pages"` // partial passes never remove listings
}

// SpiderMessage is one line of spider output
type SpiderMessage struct {
	Type string          `json:"type"` // "items", "complete" or "error"
	Data json.RawMessage `json:"data"`
}

type completeMessage struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	TotalItems int    `json:"total_items"`
	Expected   int    `json:"expected"`
}

type errorMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewSpiderManager creates a manager running cfg.Scraping.Command
func NewSpiderManager(cfg *config.Config, runner PassRunner, logger *logrus.Logger) *SpiderManager {
	return NewSpiderManagerWithCommand(strings.Fields(cfg.Scraping.Command), runner, logger)
}

func NewSpiderManagerWithCommand(command []string, runner PassRunner, logger *logrus.Logger) *SpiderManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &SpiderManager{logger: logger, command: command, runner: runner}
}

// RunSource runs a complete pass of source
func (m *SpiderManager) RunSource(ctx context.Context, source string) error {
	_, err := m.RunSpider(ctx, SpiderParams{Source: source})
	return err
}

// RunSpider executes the spider and processes its output as one pass. A
// spider that fails or stops without its completion message ends the pass
// with a network error, so nothing is removed on partial output.
func (m *SpiderManager) RunSpider(ctx context.Context, params SpiderParams) (*models.ScrapePass, error) {
	if len(m.command) == 0 {
		return nil, errors.New("no spider command configured")
	}
	log := m.logger.WithFields(logrus.Fields{
		"source":    params.Source,
		"max_pages": params.MaxPages,
	})
	log.Info("Starting spider")

	inputData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spider parameters: %w", err)
	}

	cmd := exec.CommandContext(ctx, m.command[0], m.command[1:]...)
	cmd.Stdin = bytes.NewBuffer(inputData)
	stderr := log.WriterLevel(logrus.WarnLevel)
	defer stderr.Close()
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start spider: %w", err)
	}

	batches := make(chan models.Batch, 4)
	go func() {
		defer close(batches)
		complete, decodeErr := m.decodeMessages(stdout, batches)
		waitErr := cmd.Wait()
		switch {
		case waitErr != nil:
			batches <- models.Batch{Err: fmt.Errorf("%w: spider exited: %v", models.ErrNetwork, waitErr)}
		case decodeErr != nil:
			batches <- models.Batch{Err: fmt.Errorf("%w: reading spider output: %v", models.ErrNetwork, decodeErr)}
		case !complete:
			batches <- models.Batch{Err: fmt.Errorf("%w: spider ended without completing", models.ErrNetwork)}
		}
	}()

	pass, err := m.runner.ProcessPass(ctx, params.Source, batches, processor.PassOptions{
		Complete: params.MaxPages == nil,
	})
	if err != nil {
		return pass, fmt.Errorf("spider execution failed: %w", err)
	}
	return pass, nil
}

// decodeMessages turns spider output lines into batches and reports whether
// the completion message arrived
func (m *SpiderManager) decodeMessages(r io.Reader, out chan<- models.Batch) (bool, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	complete := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg SpiderMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			m.logger.WithError(err).Error("Failed to parse spider message")
			continue
		}

		switch msg.Type {
		case "items":
			var items []models.RawListing
			if err := json.Unmarshal(msg.Data, &items); err != nil {
				m.logger.WithError(err).Error("Failed to parse items")
				continue
			}
			out <- models.Batch{Listings: items}

		case "complete":
			var done completeMessage
			if err := json.Unmarshal(msg.Data, &done); err != nil {
				m.logger.WithError(err).Error("Failed to parse completion message")
				continue
			}
			complete = true
			if done.Expected > 0 {
				out <- models.Batch{Expected: done.Expected}
			}
			m.logger.WithFields(logrus.Fields{
				"status":      done.Status,
				"message":     done.Message,
				"total_items": done.TotalItems,
				"expected":    done.Expected,
			}).Info("Spider completed")

		case "error":
			var errMsg errorMessage
			if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
				m.logger.WithError(err).Error("Failed to parse error message")
				continue
			}
			out <- models.Batch{Err: spiderError(errMsg)}

		default:
			m.logger.WithField("type", msg.Type).Warn("Unknown spider message")
		}
	}
	return complete, scanner.Err()
}

func spiderError(msg errorMessage) error {
	switch msg.Kind {
	case models.ErrStructureChange.Error():
		return fmt.Errorf("%w: %s", models.ErrStructureChange, msg.Message)
	case models.ErrNetwork.Error():
		return fmt.Errorf("%w: %s", models.ErrNetwork, msg.Message)
	default:
		return errors.New(msg.Message)
	}
}
