package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
)

const orderColumns = `id, status, items, buyer, subtotal, discount_code, discount_amount,
	vat_rate, vat_amount, shipping, total, COALESCE(payment_session_id, ''), receipt_ref,
	created_at, updated_at`

var _ ports.OrderStore = (*Store)(nil)

// Create inserts a new order together with its first transition log entry.
func (s *Store) Create(ctx context.Context, o *domain.Order, trigger translog.Trigger) error {
	items, err := jsonArg(o.Items)
	if err != nil {
		return fmt.Errorf("sqlstore: encode items: %w", err)
	}
	buyer, err := jsonArg(o.Buyer)
	if err != nil {
		return fmt.Errorf("sqlstore: encode buyer: %w", err)
	}
	shipping, err := shippingArg(o.Shipping)
	if err != nil {
		return err
	}

	return s.withTx(ctx, "create order "+o.ID, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO orders
				(id, status, items, buyer, subtotal, discount_code, discount_amount,
				 vat_rate, vat_amount, shipping, total, payment_session_id, receipt_ref,
				 created_at, updated_at)
			VALUES
				(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := s.exec(ctx, tx, q,
			o.ID, string(o.Status), items, buyer,
			o.Subtotal, o.DiscountCode, o.DiscountAmount,
			o.VATRate, o.VATAmount, shipping, o.Total,
			nullableString(o.PaymentSessionID), o.ReceiptRef,
			s.dialect.timeArg(o.CreatedAt), s.dialect.timeArg(o.UpdatedAt),
		); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, translog.NewEntry(ctx, o.ID, "", o.Status, trigger, s.now()))
	})
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, "id = ?", id)
}

func (s *Store) GetBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.getOrder(ctx, "payment_session_id = ?", sessionID)
}

func (s *Store) getOrder(ctx context.Context, where string, arg string) (*domain.Order, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, arg)
	}
	if err != nil {
		return nil, persistErr("get order "+arg, err)
	}
	return o, nil
}

// Freeze writes the re-priced snapshot and moves the order to
// awaiting_payment. The write only lands while the stored status is still
// quoted or awaiting_payment; a paid or canceled order is left untouched
// and reported with Applied == false.
func (s *Store) Freeze(ctx context.Context, o *domain.Order, trigger translog.Trigger) (ports.TransitionResult, error) {
	items, err := jsonArg(o.Items)
	if err != nil {
		return ports.TransitionResult{}, fmt.Errorf("sqlstore: encode items: %w", err)
	}
	buyer, err := jsonArg(o.Buyer)
	if err != nil {
		return ports.TransitionResult{}, fmt.Errorf("sqlstore: encode buyer: %w", err)
	}
	shipping, err := shippingArg(o.Shipping)
	if err != nil {
		return ports.TransitionResult{}, err
	}

	res := ports.TransitionResult{OrderID: o.ID}
	err = s.withTx(ctx, "freeze order "+o.ID, func(tx *sql.Tx) error {
		from, found, err := s.statusByID(ctx, tx, o.ID)
		if err != nil || !found {
			return err
		}
		res.Found = true

		const q = `
			UPDATE orders
			SET    status = ?, items = ?, buyer = ?, subtotal = ?, discount_code = ?,
			       discount_amount = ?, vat_rate = ?, vat_amount = ?, shipping = ?,
			       total = ?, updated_at = ?
			WHERE  id = ? AND status IN (?, ?) AND payment_session_id IS NULL`
		n, err := s.exec(ctx, tx, q,
			string(domain.StatusAwaitingPayment), items, buyer, o.Subtotal, o.DiscountCode,
			o.DiscountAmount, o.VATRate, o.VATAmount, shipping,
			o.Total, s.dialect.timeArg(o.UpdatedAt),
			o.ID, string(domain.StatusQuoted), string(domain.StatusAwaitingPayment),
		)
		if err != nil {
			return err
		}
		if n == 0 {
			res.Status = from
			return nil
		}
		res.Applied = true
		res.Status = domain.StatusAwaitingPayment
		return s.appendEvent(ctx, tx, translog.NewEntry(ctx, o.ID, from, domain.StatusAwaitingPayment, trigger, s.now()))
	})
	return res, err
}

// AttachSession links a gateway session to an awaiting_payment order. It
// reports false when the order already has a session or is in another
// status.
func (s *Store) AttachSession(ctx context.Context, orderID, sessionID string) (bool, error) {
	const q = `
		UPDATE orders
		SET    payment_session_id = ?, updated_at = ?
		WHERE  id = ? AND status = ? AND payment_session_id IS NULL`
	n, err := s.exec(ctx, s.db, q,
		sessionID, s.dialect.timeArg(s.now()), orderID, string(domain.StatusAwaitingPayment))
	if err != nil {
		return false, persistErr("attach session to "+orderID, err)
	}
	return n == 1, nil
}

func (s *Store) SetReceiptRef(ctx context.Context, orderID, ref string) error {
	const q = `UPDATE orders SET receipt_ref = ?, updated_at = ? WHERE id = ?`
	n, err := s.exec(ctx, s.db, q, ref, s.dialect.timeArg(s.now()), orderID)
	if err != nil {
		return persistErr("set receipt ref on "+orderID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return nil
}

// MarkPaid is the single conditional write both reconciliation paths go
// through: match on the session id, guard on status <> 'paid'. Only the call
// whose UPDATE affects a row records a transition.
func (s *Store) MarkPaid(ctx context.Context, sessionID string, trigger translog.Trigger) (ports.TransitionResult, error) {
	var res ports.TransitionResult
	err := s.withTx(ctx, "mark paid "+sessionID, func(tx *sql.Tx) error {
		var status string
		err := s.queryRow(ctx, tx,
			`SELECT id, status FROM orders WHERE payment_session_id = ?`, sessionID,
		).Scan(&res.OrderID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Found = true
		from := domain.OrderStatus(status)

		n, err := s.exec(ctx, tx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
			string(domain.StatusPaid), s.dialect.timeArg(s.now()), res.OrderID, string(domain.StatusPaid),
		)
		if err != nil {
			return err
		}
		res.Status = domain.StatusPaid
		if n == 0 {
			return nil
		}
		res.Applied = true
		return s.appendEvent(ctx, tx, translog.NewEntry(ctx, res.OrderID, from, domain.StatusPaid, trigger, s.now()))
	})
	return res, err
}

// Cancel is the administrative exit from quoted or awaiting_payment.
func (s *Store) Cancel(ctx context.Context, orderID string) (ports.TransitionResult, error) {
	res := ports.TransitionResult{OrderID: orderID}
	err := s.withTx(ctx, "cancel order "+orderID, func(tx *sql.Tx) error {
		from, found, err := s.statusByID(ctx, tx, orderID)
		if err != nil || !found {
			return err
		}
		res.Found = true
		res.Status = from

		n, err := s.exec(ctx, tx,
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
			string(domain.StatusCanceled), s.dialect.timeArg(s.now()), orderID,
			string(domain.StatusQuoted), string(domain.StatusAwaitingPayment),
		)
		if err != nil || n == 0 {
			return err
		}
		res.Applied = true
		res.Status = domain.StatusCanceled
		return s.appendEvent(ctx, tx, translog.NewEntry(ctx, orderID, from, domain.StatusCanceled, translog.TriggerAdmin, s.now()))
	})
	return res, err
}

// Events returns the transition log of an order, oldest first.
func (s *Store) Events(ctx context.Context, orderID string) ([]translog.Entry, error) {
	const q = `
		SELECT id, order_id, from_status, to_status, trigger_source, trace_id, span_id, occurred_at
		FROM   order_events
		WHERE  order_id = ?
		ORDER  BY id`
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(q), orderID)
	if err != nil {
		return nil, persistErr("list events for "+orderID, err)
	}
	defer rows.Close()

	var out []translog.Entry
	for rows.Next() {
		var (
			e        translog.Entry
			from, to string
			trigger  string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &trigger, &e.TraceID, &e.SpanID, timeCol{&e.At}); err != nil {
			return nil, persistErr("scan event", err)
		}
		e.From = domain.OrderStatus(from)
		e.To = domain.OrderStatus(to)
		e.Trigger = translog.Trigger(trigger)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list events for "+orderID, err)
	}
	return out, nil
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, e translog.Entry) error {
	const q = `
		INSERT INTO order_events
			(order_id, from_status, to_status, trigger_source, trace_id, span_id, occurred_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?)`
	_, err := s.exec(ctx, tx, q,
		e.OrderID, string(e.From), string(e.To), string(e.Trigger), e.TraceID, e.SpanID, s.dialect.timeArg(e.At))
	return err
}

func (s *Store) statusByID(ctx context.Context, tx *sql.Tx, id string) (domain.OrderStatus, bool, error) {
	var status string
	err := s.queryRow(ctx, tx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.OrderStatus(status), true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
		ship   domain.ShippingOption
		hasShp bool
	)
	err := row.Scan(
		&o.ID, &status, jsonCol{&o.Items}, jsonCol{&o.Buyer},
		&o.Subtotal, &o.DiscountCode, &o.DiscountAmount,
		&o.VATRate, &o.VATAmount, shippingCol{&ship, &hasShp}, &o.Total,
		&o.PaymentSessionID, &o.ReceiptRef,
		timeCol{&o.CreatedAt}, timeCol{&o.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if hasShp {
		o.Shipping = &ship
	}
	return &o, nil
}

// shippingCol records whether the nullable shipping column held a value.
type shippingCol struct {
	dst *domain.ShippingOption
	ok  *bool
}

func (c shippingCol) Scan(src any) error {
	if src == nil {
		return nil
	}
	*c.ok = true
	return jsonCol{c.dst}.Scan(src)
}

func shippingArg(opt *domain.ShippingOption) (any, error) {
	if opt == nil {
		return nil, nil
	}
	v, err := jsonArg(opt)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode shipping: %w", err)
	}
	return v, nil
}
