package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/roleplay/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audited actions.
const (
	ActionLogin           = "login"
	ActionVehiclePurchase = "vehicle_purchase"
	ActionParkingPurchase = "vehicle_buy_park"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID    string
	AccountID  *int64
	CharID     *int64
	CharName   string
	VehicleID  *int
	Action     string
	Request    interface{}
	Response   interface{}
	Error      string
	IP         string
	DurationMs int
}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an entry for async DB write. A nil Service discards it.
func (svc *Service) Log(entry Entry) {
	if svc == nil {
		return
	}
	reqJSON, _ := json.Marshal(entry.Request)
	respJSON, _ := json.Marshal(entry.Response)
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		AccountID:  entry.AccountID,
		CharID:     entry.CharID,
		CharName:   entry.CharName,
		VehicleID:  entry.VehicleID,
		Action:     entry.Action,
		Request:    datatypes.JSON(reqJSON),
		Response:   datatypes.JSON(respJSON),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Vehicle records a money-moving vehicle action. vehicleID < 0 means no
// vehicle was involved (a failed purchase).
func (svc *Service) Vehicle(traceID string, accountID, charID int64, charName, action string, vehicleID int, req, resp interface{}, err error, took time.Duration) {
	e := Entry{
		TraceID:    traceID,
		AccountID:  &accountID,
		CharName:   charName,
		Action:     action,
		Request:    req,
		Response:   resp,
		DurationMs: int(took.Milliseconds()),
	}
	if charID != 0 {
		e.CharID = &charID
	}
	if vehicleID >= 0 {
		e.VehicleID = &vehicleID
	}
	if err != nil {
		e.Error = err.Error()
	}
	svc.Log(e)
}

// Recent returns the newest entries, optionally filtered by action.
func (svc *Service) Recent(ctx context.Context, action string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var out []model.AuditLog
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
