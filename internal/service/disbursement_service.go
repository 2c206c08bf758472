package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/ledger"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

// disbursementService runs the grant saga: reserve funds and open a
// payment attempt, then commit on success or release on cancel/failure.
// Every reservation it makes ends in exactly one commit or release.
type disbursementService struct {
	core
	ledger *ledger.Ledger
}

// NewDisbursementService shares the ledger's locker so bucket keys are
// taken from one place.
func NewDisbursementService(database db.DBTX, uow db.UnitOfWork, led *ledger.Ledger, opts ...Option) DisbursementService {
	return &disbursementService{
		core:   newCore(database, uow, led.Locker(), opts),
		ledger: led,
	}
}

func (s *disbursementService) ProcessGrant(ctx context.Context, req ProcessGrantRequest) (res *GrantResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": req.ApplicationID}
	defer func() {
		if res != nil {
			fields["payment_id"] = res.Payment.ID
			fields["attempt"] = res.Payment.Attempt
		}
		s.observe(ctx, "disbursement.process_grant", startedAt, fields, err)
	}()

	method := domain.PaymentMethod(domain.CoalesceStr(string(req.Method), string(domain.MethodProvider)))
	fields["method"] = string(method)
	if err = s.checkMethod(method); err != nil {
		return nil, err
	}

	res, err = s.initiate(ctx, req.ApplicationID, method, req.Actor, "")
	if err != nil {
		return nil, err
	}
	return s.startCheckout(ctx, res)
}

func (s *disbursementService) checkMethod(method domain.PaymentMethod) error {
	if !domain.ValidPaymentMethods[method] {
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrInvalidDecision, method)
	}
	if method == domain.MethodProvider && s.provider == nil {
		return fmt.Errorf("%w: no payment provider configured", domain.ErrInvalidDecision)
	}
	return nil
}

// initiate reserves the approved amount, opens a payment attempt and moves
// the application to grants_processing in one unit of work. An application
// already in grants_processing with an open attempt resumes that attempt.
// retryOf names the closed attempt a retry must follow.
func (s *disbursementService) initiate(ctx context.Context, applicationID string, method domain.PaymentMethod,
	actor domain.Actor, retryOf string) (*GrantResult, error) {
	current, err := s.getApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	bucket := current.Bucket()
	unlock, err := lock.All(ctx, s.locker,
		lock.AppKey(applicationID), lock.BucketKey(bucket.BudgetType, bucket.SchoolYear))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *GrantResult
	var events []notify.Event
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		events = nil
		payments := repository.NewSQLitePaymentRepo(tx)

		app, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, applicationID)
		if err != nil {
			return err
		}
		latest, err := payments.LatestByApplication(ctx, app.ID)
		if err != nil && !isNotFound(err) {
			return err
		}
		if isNotFound(err) {
			latest = nil
		}

		if app.Status == domain.StatusGrantsProcessing && latest != nil && !latest.IsTerminal() {
			if retryOf != "" {
				return fmt.Errorf("%w: payment %s was superseded by %s",
					domain.ErrPaymentNotRetryable, retryOf, latest.ID)
			}
			out = &GrantResult{Application: app, Payment: latest}
			return nil
		}
		if app.IsClosed() {
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, app.ID, app.Status)
		}
		if app.Status != domain.StatusApproved {
			return fmt.Errorf("%w: grant requires %s, application is %s",
				domain.ErrInvalidTransition, domain.StatusApproved, app.Status)
		}
		if retryOf != "" && (latest == nil || latest.ID != retryOf || !latest.Retryable()) {
			return fmt.Errorf("%w: payment %s is not the latest closed attempt", domain.ErrPaymentNotRetryable, retryOf)
		}
		if app.ApprovedAmount == nil || *app.ApprovedAmount <= 0 {
			return fmt.Errorf("%w: application %s has no approved amount", domain.ErrInvalidDecision, app.ID)
		}
		amount := *app.ApprovedAmount

		reservation, err := s.ledger.InTx(tx).Reserve(ctx, app.Bucket(), app.ID, amount)
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return fmt.Errorf("%w: %w", domain.ErrBudgetExhausted, err)
		}
		if err != nil {
			return err
		}

		now := s.now()
		p := &domain.PaymentRecord{
			ID:            uuid.New().String(),
			ApplicationID: app.ID,
			Attempt:       1,
			Method:        method,
			ReservationID: reservation.ID,
			Amount:        amount,
			Status:        domain.PaymentInitiated,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if latest != nil {
			p.Attempt = latest.Attempt + 1
			p.RetryCount = latest.RetryCount + 1
		}
		if err := payments.Create(ctx, p); err != nil {
			return err
		}
		if latest != nil {
			latest.SupersededBy = p.ID
			latest.UpdatedAt = now
			if err := payments.Update(ctx, latest); err != nil {
				return err
			}
		}

		notes := fmt.Sprintf("payment attempt %d via %s", p.Attempt, p.Method)
		transitionEvents, err := s.transition(ctx, tx, app, domain.StatusGrantsProcessing, actor, notes)
		if err != nil {
			return err
		}
		events = append(transitionEvents, paymentEvent(p, actor, now))
		out = &GrantResult{Application: app, Payment: p}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return out, nil
}

// startCheckout opens the provider checkout for an initiated provider
// attempt. It runs outside every lock; the payment id is the idempotency
// key, so a resumed attempt gets the same session back.
func (s *disbursementService) startCheckout(ctx context.Context, res *GrantResult) (*GrantResult, error) {
	p := res.Payment
	if p.Method != domain.MethodProvider || p.Status != domain.PaymentInitiated {
		return res, nil
	}
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no payment provider configured", domain.ErrInvalidDecision)
	}

	app := res.Application
	checkout, err := s.provider.CreateCheckout(ctx, payment.CheckoutRequest{
		IdempotencyKey: p.ID,
		ApplicationID:  app.ID,
		StudentID:      app.StudentID,
		Amount:         p.Amount,
		Description:    fmt.Sprintf("Scholarship grant %s %s", app.Program, app.SchoolYear),
	})
	if err != nil {
		s.logger.Warn("checkout creation failed",
			"application_id", app.ID,
			"payment_id", p.ID,
			"error", err,
		)
		return nil, fmt.Errorf("creating checkout for payment %s: %w", p.ID, err)
	}

	unlock, err := s.locker.Lock(ctx, lock.AppKey(app.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var updated *domain.PaymentRecord
	var moved bool
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		payments := repository.NewSQLitePaymentRepo(tx)
		current, err := payments.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		updated = current
		if current.Status != domain.PaymentInitiated && current.Status != domain.PaymentProcessing {
			moved = true
			return nil
		}
		if err := current.MarkProcessing(checkout.SessionID, checkout.URL, s.now()); err != nil {
			return err
		}
		return payments.Update(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.logger.Info("payment closed before checkout was recorded",
			"payment_id", p.ID,
			"status", string(updated.Status),
		)
	} else {
		s.publish([]notify.Event{paymentEvent(updated, domain.SystemActor, updated.UpdatedAt)})
	}

	current, err := s.getApplication(ctx, app.ID)
	if err != nil {
		return nil, err
	}
	return &GrantResult{Application: current, Payment: updated}, nil
}

type completion struct {
	method        domain.PaymentMethod
	transactionID string
	receipt       string
	actor         domain.Actor
}

func (s *disbursementService) ConfirmDisbursement(ctx context.Context, req ConfirmRequest) (res *GrantResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": req.ApplicationID}
	defer func() { s.observe(ctx, "disbursement.confirm", startedAt, fields, err) }()

	if strings.TrimSpace(req.Receipt) == "" || strings.TrimSpace(req.ProviderRef) == "" {
		return nil, domain.ErrMissingReceipt
	}
	if req.Method != "" && !domain.ValidPaymentMethods[req.Method] {
		return nil, fmt.Errorf("%w: unknown payment method %q", domain.ErrInvalidDecision, req.Method)
	}
	return s.complete(ctx, ProviderIdentifiers{ApplicationID: req.ApplicationID}, completion{
		method:        req.Method,
		transactionID: req.ProviderRef,
		receipt:       req.Receipt,
		actor:         req.Actor,
	})
}

func (s *disbursementService) HandleProviderSuccess(ctx context.Context, ids ProviderIdentifiers, transactionID string) (res *GrantResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"application_id": ids.ApplicationID,
		"session_id":     ids.SessionID,
	}
	defer func() { s.observe(ctx, "disbursement.provider_success", startedAt, fields, err) }()

	if strings.TrimSpace(transactionID) == "" {
		return nil, domain.ErrMissingReceipt
	}
	if ids.TransactionID == "" {
		ids.TransactionID = transactionID
	}
	res, err = s.complete(ctx, ids, completion{
		transactionID: transactionID,
		receipt:       transactionID,
		actor:         domain.SystemActor,
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Warn("late provider success ignored",
			"application_id", ids.ApplicationID,
			"session_id", ids.SessionID,
			"transaction_id", transactionID,
			"error", err,
		)
	}
	return res, err
}

// complete marks the attempt paid, commits its reservation and moves the
// application to grants_disbursed. A completed attempt is returned as is.
func (s *disbursementService) complete(ctx context.Context, ids ProviderIdentifiers, c completion) (*GrantResult, error) {
	resolved, err := s.resolvePayment(ctx, repository.NewSQLitePaymentRepo(s.db), ids)
	if err != nil {
		return nil, err
	}
	current, err := s.getApplication(ctx, resolved.ApplicationID)
	if err != nil {
		return nil, err
	}
	bucket := current.Bucket()
	unlock, err := lock.All(ctx, s.locker,
		lock.AppKey(current.ID), lock.BucketKey(bucket.BudgetType, bucket.SchoolYear))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *GrantResult
	var events []notify.Event
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		events = nil
		payments := repository.NewSQLitePaymentRepo(tx)

		app, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, current.ID)
		if err != nil {
			return err
		}
		p, err := payments.GetByID(ctx, resolved.ID)
		if err != nil {
			return err
		}
		out = &GrantResult{Application: app, Payment: p}
		if p.Status == domain.PaymentCompleted {
			return nil
		}
		if p.IsTerminal() {
			return fmt.Errorf("%w: payment %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
		}
		if app.IsClosed() {
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, app.ID, app.Status)
		}
		if app.Status != domain.StatusGrantsProcessing {
			return fmt.Errorf("%w: disbursement requires %s, application is %s",
				domain.ErrInvalidTransition, domain.StatusGrantsProcessing, app.Status)
		}

		now := s.now()
		if c.method != "" && p.Status == domain.PaymentInitiated {
			p.Method = c.method
		}
		if _, err := p.Complete(c.transactionID, c.receipt, c.actor.ID, now); err != nil {
			return err
		}
		if _, err := s.ledger.InTx(tx).Commit(ctx, p.ReservationID); err != nil {
			return err
		}
		if err := payments.Update(ctx, p); err != nil {
			return err
		}
		transitionEvents, err := s.transition(ctx, tx, app, domain.StatusGrantsDisbursed, c.actor,
			"disbursed, receipt "+c.receipt)
		if err != nil {
			return err
		}
		events = append(transitionEvents, paymentEvent(p, c.actor, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return out, nil
}

func (s *disbursementService) HandleProviderCancel(ctx context.Context, ids ProviderIdentifiers) (res *CompensationResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": ids.ApplicationID, "session_id": ids.SessionID}
	defer func() {
		if res != nil {
			fields["outcome"] = string(res.Outcome)
		}
		s.observe(ctx, "disbursement.provider_cancel", startedAt, fields, err)
	}()
	return s.compensate(ctx, ids, domain.PaymentCancelled, "cancelled by provider")
}

func (s *disbursementService) HandleProviderFailure(ctx context.Context, ids ProviderIdentifiers, reason string) (res *CompensationResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": ids.ApplicationID, "session_id": ids.SessionID}
	defer func() {
		if res != nil {
			fields["outcome"] = string(res.Outcome)
		}
		s.observe(ctx, "disbursement.provider_failure", startedAt, fields, err)
	}()
	return s.compensate(ctx, ids, domain.PaymentFailed, domain.CoalesceStr(reason, "payment failed"))
}

// compensate undoes an open attempt: release the reservation, close the
// record and return the application to approved. Repeats report
// not_applicable.
func (s *disbursementService) compensate(ctx context.Context, ids ProviderIdentifiers,
	status domain.PaymentStatus, reason string) (*CompensationResult, error) {
	resolved, err := s.resolvePayment(ctx, repository.NewSQLitePaymentRepo(s.db), ids)
	if err != nil {
		return nil, err
	}
	current, err := s.getApplication(ctx, resolved.ApplicationID)
	if err != nil {
		return nil, err
	}
	bucket := current.Bucket()
	unlock, err := lock.All(ctx, s.locker,
		lock.AppKey(current.ID), lock.BucketKey(bucket.BudgetType, bucket.SchoolYear))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *CompensationResult
	var events []notify.Event
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		events = nil
		payments := repository.NewSQLitePaymentRepo(tx)

		app, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, current.ID)
		if err != nil {
			return err
		}
		p, err := payments.GetByID(ctx, resolved.ID)
		if err != nil {
			return err
		}
		out = &CompensationResult{Outcome: OutcomeNotApplicable, Application: app, Payment: p}
		if app.Status != domain.StatusGrantsProcessing || p.IsTerminal() {
			return nil
		}

		now := s.now()
		if _, err := s.ledger.InTx(tx).Release(ctx, p.ReservationID); err != nil {
			return err
		}
		if _, err := p.Close(status, reason, now); err != nil {
			return err
		}
		if err := payments.Update(ctx, p); err != nil {
			return err
		}
		transitionEvents, err := s.transition(ctx, tx, app, domain.StatusApproved, domain.SystemActor, reason)
		if err != nil {
			return err
		}
		events = append(transitionEvents, paymentEvent(p, domain.SystemActor, now))
		out.Outcome = OutcomeCompensated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Outcome == OutcomeNotApplicable {
		s.logger.Info("compensation not applicable",
			"application_id", out.Application.ID,
			"status", string(out.Application.Status),
			"payment_id", out.Payment.ID,
			"payment_status", string(out.Payment.Status),
		)
	}
	s.publish(events)
	return out, nil
}

// resolvePayment finds the attempt a callback refers to. Identifiers are
// tried in order: application id (latest attempt), checkout session id,
// transaction id.
func (s *disbursementService) resolvePayment(ctx context.Context, payments repository.PaymentRepo, ids ProviderIdentifiers) (*domain.PaymentRecord, error) {
	lookups := []struct {
		key  string
		find func(context.Context, string) (*domain.PaymentRecord, error)
	}{
		{ids.ApplicationID, payments.LatestByApplication},
		{ids.SessionID, payments.GetBySessionID},
		{ids.TransactionID, payments.GetByTransactionID},
	}
	tried := false
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		tried = true
		p, err := l.find(ctx, l.key)
		if err == nil {
			return p, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	if !tried {
		return nil, fmt.Errorf("%w: no identifier supplied", domain.ErrPaymentNotFound)
	}
	return nil, fmt.Errorf("%w: application=%q session=%q transaction=%q",
		domain.ErrPaymentNotFound, ids.ApplicationID, ids.SessionID, ids.TransactionID)
}

func (s *disbursementService) RetryPayment(ctx context.Context, paymentID string, actor domain.Actor) (res *GrantResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"payment_id": paymentID}
	defer func() {
		if res != nil {
			fields["attempt"] = res.Payment.Attempt
		}
		s.observe(ctx, "disbursement.retry", startedAt, fields, err)
	}()

	prev, err := repository.NewSQLitePaymentRepo(s.db).GetByID(ctx, paymentID)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	fields["application_id"] = prev.ApplicationID
	if !prev.Retryable() {
		return nil, fmt.Errorf("%w: payment %s is %s", domain.ErrPaymentNotRetryable, prev.ID, prev.Status)
	}
	if err = s.checkMethod(prev.Method); err != nil {
		return nil, err
	}

	res, err = s.initiate(ctx, prev.ApplicationID, prev.Method, actor, prev.ID)
	if err != nil {
		return nil, err
	}
	return s.startCheckout(ctx, res)
}

func (s *disbursementService) Payments(ctx context.Context, applicationID string) ([]*domain.PaymentRecord, error) {
	if _, err := s.getApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return repository.NewSQLitePaymentRepo(s.db).ListByApplication(ctx, applicationID)
}

// Reconcile reports held reservations older than olderThan. It only alerts;
// releasing an orphan is an operator decision.
func (s *disbursementService) Reconcile(ctx context.Context, olderThan time.Duration) (report *ReconcileReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"older_than": olderThan.String()}
	defer func() {
		if report != nil {
			fields["orphans"] = len(report.Orphans)
		}
		s.observe(ctx, "disbursement.reconcile", startedAt, fields, err)
	}()

	now := s.now()
	held, err := s.ledger.HeldOlderThan(ctx, now.Add(-olderThan))
	if err != nil {
		return nil, err
	}

	payments := repository.NewSQLitePaymentRepo(s.db)
	report = &ReconcileReport{CheckedAt: now}
	for _, r := range held {
		orphan := OrphanedReservation{Reservation: r, Age: now.Sub(r.CreatedAt)}
		p, err := payments.GetByReservationID(ctx, r.ID)
		switch {
		case isNotFound(err):
			orphan.Reason = OrphanNoPayment
		case err != nil:
			return nil, err
		case p.IsTerminal():
			orphan.Payment = p
			orphan.Reason = OrphanPaymentClosed
		default:
			orphan.Payment = p
			orphan.Reason = OrphanPaymentPending
		}
		report.Orphans = append(report.Orphans, orphan)

		s.logger.Warn("orphaned reservation",
			"reservation_id", r.ID,
			"application_id", r.ApplicationID,
			"bucket", r.Bucket.String(),
			"amount", r.Amount,
			"age", orphan.Age.String(),
			"reason", orphan.Reason,
		)
		s.notifier.Publish(notify.Event{
			Kind:          notify.KindOrphan,
			ApplicationID: r.ApplicationID,
			Notes:         orphan.Reason,
			Data: map[string]any{
				"reservation_id": r.ID,
				"bucket":         r.Bucket.String(),
				"amount":         r.Amount,
				"age_seconds":    int64(orphan.Age.Seconds()),
			},
			OccurredAt: now,
		})
	}
	return report, nil
}
