package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

const defaultSweepBatchSize = 100

type autoApprover interface {
	AutoApproveExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// ApprovalSweepJobParams configure the auto-approval sweep.
type ApprovalSweepJobParams struct {
	Logger    *logger.Logger
	Approver  autoApprover
	BatchSize int
}

// NewApprovalSweepJob builds the job that approves orders whose admin review
// window has lapsed.
func NewApprovalSweepJob(params ApprovalSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Approver == nil {
		return nil, fmt.Errorf("approver required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	return &approvalSweepJob{
		logg:     params.Logger,
		approver: params.Approver,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

type approvalSweepJob struct {
	logg     *logger.Logger
	approver autoApprover
	batch    int
	now      func() time.Time
}

func (j *approvalSweepJob) Name() string { return "approval-sweep" }

func (j *approvalSweepJob) Run(ctx context.Context) error {
	approved, err := j.approver.AutoApproveExpired(ctx, j.now(), j.batch)
	if len(approved) > 0 {
		ctx = j.logg.WithField(ctx, "approved", len(approved))
		j.logg.Info(ctx, "auto-approved expired orders")
	}
	if err != nil {
		return fmt.Errorf("auto approve sweep: %w", err)
	}
	return nil
}
