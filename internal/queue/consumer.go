package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/domodwyer/mailyak/v3"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/backyardbar/ticketing/internal/utils"
)

// StartFulfillmentConsumer connects to RabbitMQ, declares the
// order.approved queue and consumes it: each message gets one QR PNG per
// ticket written under the media dir and, when SMTP is configured, a
// confirmation email with the codes attached. The function runs a
// reconnect loop with exponential backoff and never returns in normal
// operation. Fulfillment failures are logged and the message is rejected
// without requeue; they never touch order state.
func StartFulfillmentConsumer() error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(brokerURL())
		if err != nil {
			logrus.WithError(err).Warnf("fulfillment: dial failed, retrying in %s", backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		if err := consumeLoop(conn); err != nil {
			logrus.WithError(err).Warn("fulfillment: consume loop ended, reconnecting")
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		logrus.WithError(err).Warn("fulfillment: set QoS failed")
	}
	if _, err := ch.QueueDeclare(orderApprovedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(orderApprovedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := fulfill(d.Body); err != nil {
			logrus.WithError(err).Error("fulfillment: handle message failed")
			_ = d.Nack(false, false) // do not requeue, avoids tight redelivery loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func fulfill(body []byte) error {
	ev, err := decodeApproved(body)
	if err != nil {
		return err
	}

	mediaDir := os.Getenv("MEDIA_DIR")
	if mediaDir == "" {
		mediaDir = "media"
	}
	qrDir := filepath.Join(mediaDir, "qrs")
	if err := os.MkdirAll(qrDir, 0o755); err != nil {
		return fmt.Errorf("mkdir qr dir: %w", err)
	}

	// One PNG per ticket; the file name doubles as the scan payload.
	paths := make([]string, 0, len(ev.TicketIDs))
	for _, tid := range ev.TicketIDs {
		p := filepath.Join(qrDir, "qr_"+tid+".png")
		if err := utils.WriteTicketQR(tid, p); err != nil {
			return fmt.Errorf("render qr %s: %w", tid, err)
		}
		paths = append(paths, p)
	}

	if err := sendConfirmation(ev, paths); err != nil {
		// Email is best-effort; the QRs are on disk and the tickets are
		// valid either way.
		logrus.WithError(err).WithField("order_id", ev.OrderID).Warn("fulfillment: email failed")
	}

	logrus.WithFields(logrus.Fields{
		"order_id": ev.OrderID,
		"buyer_id": ev.BuyerID,
		"tickets":  len(ev.TicketIDs),
	}).Info("fulfillment: order fulfilled")
	return nil
}

func decodeApproved(body []byte) (OrderApprovedEvent, error) {
	var ev OrderApprovedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.OrderID == "" || len(ev.TicketIDs) == 0 {
		return ev, errors.New("incomplete order.approved event")
	}
	return ev, nil
}

// sendConfirmation emails the buyer their codes. Skipped silently when
// SMTP_HOST is unset (local development).
func sendConfirmation(ev OrderApprovedEvent, qrPaths []string) error {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil
	}
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	from := os.Getenv("SMTP_FROM")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASSWORD")

	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}
	mail := mailyak.New(host+":"+port, auth)
	mail.From(from)
	mail.To(ev.BuyerEmail)
	mail.Subject("Your tickets for " + ev.EventTitle)
	mail.Plain().Set(confirmationText(ev))
	mail.HTML().Set(confirmationHTML(ev))

	for _, p := range qrPaths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open qr: %w", err)
		}
		mail.Attach(filepath.Base(p), f)
		defer f.Close()
	}
	return mail.Send()
}

func confirmationText(ev OrderApprovedEvent) string {
	return fmt.Sprintf("Hi %s,\n\nYour purchase for %s is confirmed.\n"+
		"Lot: %s\nTickets: %d\nTotal: %s %s\nOrder: %s\n\n"+
		"The attached QR codes are your tickets. Each one admits one person.\n",
		ev.BuyerName, ev.EventTitle, ev.LotName, ev.Quantity, ev.Total, ev.Currency, ev.OrderID)
}

func confirmationHTML(ev OrderApprovedEvent) string {
	return fmt.Sprintf("<h2>See you at %s!</h2>"+
		"<p>Hi %s, your purchase is confirmed.</p>"+
		"<ul><li>Lot: %s</li><li>Tickets: %s</li><li>Total: %s %s</li></ul>"+
		"<p>The attached QR codes are your tickets. Each one admits one person.</p>"+
		"<p><small>Order %s</small></p>",
		ev.EventTitle, ev.BuyerName, ev.LotName,
		strconv.FormatUint(uint64(ev.Quantity), 10), ev.Total, ev.Currency, ev.OrderID)
}
