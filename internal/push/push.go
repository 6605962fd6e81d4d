package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/pkg/apperror"
)

const DefaultSubscriber = "mailto:push@pawpal.local"

type sendFunc func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Notifier sends Web Push notifications to users who are not connected.
// A nil *Notifier is valid and does nothing.
type Notifier struct {
	db         *db.DB
	log        logrus.FieldLogger
	publicKey  string
	privateKey string
	subscriber string
	send       sendFunc
	wg         sync.WaitGroup
}

type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
}

// Subscription is a browser PushSubscription as posted by the frontend.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// NewNotifier returns nil when the VAPID key pair is not configured.
func NewNotifier(database *db.DB, opts Options, log logrus.FieldLogger) *Notifier {
	if opts.VAPIDPublicKey == "" || opts.VAPIDPrivateKey == "" {
		return nil
	}
	if opts.Subscriber == "" {
		opts.Subscriber = DefaultSubscriber
	}
	return &Notifier{
		db:         database,
		log:        log.WithField("component", "push"),
		publicKey:  opts.VAPIDPublicKey,
		privateKey: opts.VAPIDPrivateKey,
		subscriber: opts.Subscriber,
		send:       webpush.SendNotification,
	}
}

func (n *Notifier) Enabled() bool { return n != nil }

func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.publicKey
}

// Subscribe stores the subscription for userID. Re-subscribing an endpoint
// moves it to the new user and clears any revocation.
func (n *Notifier) Subscribe(ctx context.Context, userID int, sub Subscription) error {
	if n == nil {
		return apperror.NotFound("Push notifications are not enabled")
	}
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return apperror.Validation("Invalid push subscription")
	}

	_, err := n.db.Exec(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			revoked_at = NULL
	`, userID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return errors.Wrap(err, "push.Subscribe")
	}
	return nil
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

type target struct {
	endpoint, p256dh, auth string
}

// NotifyNewMessage fans out to every active subscription of recipientID in
// the background.
func (n *Notifier) NotifyNewMessage(recipientID int, senderUsername string) {
	if n == nil {
		return
	}
	log := n.log.WithField("user_id", recipientID)

	rows, err := n.db.Query(context.Background(),
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		recipientID,
	)
	if err != nil {
		log.WithError(err).Error("failed to query subscriptions")
		return
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.endpoint, &t.p256dh, &t.auth); err != nil {
			log.WithError(err).Warn("skipping unreadable subscription")
			continue
		}
		targets = append(targets, t)
	}
	rows.Close()

	if len(targets) == 0 {
		log.Debug("no active subscriptions")
		return
	}

	data, _ := json.Marshal(payload{
		Title: "New message",
		Body:  "New message from " + senderUsername,
		URL:   "/messages",
	})

	log.WithField("subscriptions", len(targets)).Debug("sending push notifications")
	for _, t := range targets {
		n.wg.Add(1)
		go func(t target) {
			defer n.wg.Done()
			n.deliver(t, data)
		}(t)
	}
}

func (n *Notifier) deliver(t target, data []byte) {
	log := n.log.WithField("endpoint", t.endpoint)

	resp, err := n.send(data, &webpush.Subscription{
		Endpoint: t.endpoint,
		Keys:     webpush.Keys{P256dh: t.p256dh, Auth: t.auth},
	}, &webpush.Options{
		VAPIDPublicKey:  n.publicKey,
		VAPIDPrivateKey: n.privateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		log.WithError(err).Warn("push delivery failed")
		return
	}
	defer resp.Body.Close()

	// 404 and 410 mean the browser dropped the subscription.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if _, err := n.db.Exec(context.Background(),
			"UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP WHERE endpoint = ?",
			t.endpoint,
		); err != nil {
			log.WithError(err).Error("failed to revoke subscription")
			return
		}
		log.WithField("status", resp.StatusCode).Info("revoked expired subscription")
		return
	}
	log.WithField("status", resp.StatusCode).Debug("push delivered")
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
