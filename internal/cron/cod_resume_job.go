package cron

import (
	"context"
	"fmt"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

type inflightResumer interface {
	ResumeInFlight(ctx context.Context) (int, error)
}

// CodResumeJobParams configure the poll-resumption job.
type CodResumeJobParams struct {
	Logger  *logger.Logger
	Resumer inflightResumer
}

// NewCodResumeJob builds the job that re-registers pollers for QR charges
// left pending by a previous process. Re-watching an already-watched charge
// is a no-op, so running this on a cadence is safe.
func NewCodResumeJob(params CodResumeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Resumer == nil {
		return nil, fmt.Errorf("resumer required")
	}
	return &codResumeJob{logg: params.Logger, resumer: params.Resumer}, nil
}

type codResumeJob struct {
	logg    *logger.Logger
	resumer inflightResumer
}

func (j *codResumeJob) Name() string { return "cod-poll-resume" }

func (j *codResumeJob) Run(ctx context.Context) error {
	count, err := j.resumer.ResumeInFlight(ctx)
	if err != nil {
		return fmt.Errorf("resume in-flight charges: %w", err)
	}
	if count > 0 {
		ctx = j.logg.WithField(ctx, "charges", count)
		j.logg.Info(ctx, "resumed qr charge polling")
	}
	return nil
}
