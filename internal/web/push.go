package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	subscriptionsFile = "push_subscriptions.json"
	vapidFile         = "push_vapid_keys.json"
	defaultSubject    = "mailto:tower@localhost"
	pushTTLSeconds    = 3600
)

// pushSubscription is the standard Web Push subscription shape the browser
// hands to /api/push/subscribe.
type pushSubscription struct {
	Endpoint string               `json:"endpoint"`
	Keys     pushSubscriptionKeys `json:"keys"`
}

type pushSubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	return pushSubscription{
		Endpoint: strings.TrimSpace(s.Endpoint),
		Keys: pushSubscriptionKeys{
			P256DH: strings.TrimSpace(s.Keys.P256DH),
			Auth:   strings.TrimSpace(s.Keys.Auth),
		},
	}
}

func (s pushSubscription) validate() error {
	n := s.normalize()
	switch {
	case n.Endpoint == "":
		return fmt.Errorf("endpoint is required")
	case n.Keys.P256DH == "":
		return fmt.Errorf("keys.p256dh is required")
	case n.Keys.Auth == "":
		return fmt.Errorf("keys.auth is required")
	}
	return nil
}

// pushSubscriptionStore holds subscriptions in memory keyed by endpoint
// and mirrors every change to a JSON file so subscriptions survive a
// restart. Disk writes go through a temp file + rename.
type pushSubscriptionStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	byURL  map[string]pushSubscription
}

func newPushSubscriptionStore(dataDir string) *pushSubscriptionStore {
	return &pushSubscriptionStore{
		path:  filepath.Join(dataDir, subscriptionsFile),
		byURL: make(map[string]pushSubscription),
	}
}

// ensureLoaded reads the file once. A missing file is an empty store;
// anything else is surfaced so a corrupt file is noticed, not overwritten.
func (s *pushSubscriptionStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read push subscriptions: %w", err)
	}
	var subs []pushSubscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		return fmt.Errorf("parse push subscriptions: %w", err)
	}
	for _, sub := range subs {
		sub = sub.normalize()
		if sub.Endpoint != "" {
			s.byURL[sub.Endpoint] = sub
		}
	}
	s.loaded = true
	return nil
}

func (s *pushSubscriptionStore) persist() error {
	subs := make([]pushSubscription, 0, len(s.byURL))
	for _, sub := range s.byURL {
		subs = append(subs, sub)
	}
	raw, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal push subscriptions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create push data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write push subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename push subscriptions: %w", err)
	}
	return nil
}

func (s *pushSubscriptionStore) List(_ context.Context) ([]pushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]pushSubscription, 0, len(s.byURL))
	for _, sub := range s.byURL {
		out = append(out, sub)
	}
	return out, nil
}

func (s *pushSubscriptionStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(s.byURL), nil
}

func (s *pushSubscriptionStore) Upsert(_ context.Context, sub pushSubscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	sub = sub.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.byURL[sub.Endpoint] = sub
	return s.persist()
}

func (s *pushSubscriptionStore) RemoveByEndpoint(_ context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.byURL[endpoint]; !ok {
		return nil
	}
	delete(s.byURL, endpoint)
	return s.persist()
}

// pushSender delivers one payload to one subscription. The real sender
// talks to the push gateway; tests substitute a recorder.
type pushSender interface {
	Send(payload []byte, sub pushSubscription) (int, error)
}

// gatewaySender sends through the Web Push gateway identified by each
// subscription's endpoint, authenticated with the tower's VAPID keypair.
type gatewaySender struct {
	opts webpush.Options
}

func (g *gatewaySender) Send(payload []byte, sub pushSubscription) (int, error) {
	sub = sub.normalize()
	opts := g.opts
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256DH, Auth: sub.Keys.Auth},
	}, &opts)

	status := 0
	if resp != nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if err != nil {
		return status, err
	}
	if status >= http.StatusBadRequest {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

// pushMessage is the payload the service worker receives.
type pushMessage struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Tag        string `json:"tag,omitempty"`
	Session    string `json:"session,omitempty"`
	Kind       string `json:"kind,omitempty"`
	DecisionID string `json:"decisionId,omitempty"`
	Timestamp  string `json:"timestamp"`
	RequireInt bool   `json:"requireInteraction,omitempty"`
}

// pushService delivers notifications to subscribed browsers via Web Push.
type pushService struct {
	publicKey  string
	privateKey string
	subject    string

	store  *pushSubscriptionStore
	sender pushSender
}

// newPushService loads or generates a persistent VAPID keypair under
// dataDir and returns a ready service.
func newPushService(dataDir, subject string) (*pushService, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultSubject
	}

	pub, priv, err := loadOrCreateVAPIDKeys(dataDir, subject)
	if err != nil {
		return nil, err
	}

	return &pushService{
		publicKey:  pub,
		privateKey: priv,
		subject:    subject,
		store:      newPushSubscriptionStore(dataDir),
		sender: &gatewaySender{opts: webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  pub,
			VAPIDPrivateKey: priv,
			TTL:             pushTTLSeconds,
		}},
	}, nil
}

// SendAll pushes one message to every subscription. Subscriptions the
// gateway reports gone (404/410) are dropped from the store.
func (p *pushService) SendAll(ctx context.Context, msg pushMessage) {
	subs, err := p.store.List(ctx)
	if err != nil {
		webLog.Warn("push_list_failed", slog.String("error", err.Error()))
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		webLog.Warn("push_marshal_failed", slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		status, err := p.sender.Send(payload, sub)
		if err == nil {
			continue
		}
		if status == http.StatusNotFound || status == http.StatusGone {
			_ = p.store.RemoveByEndpoint(ctx, sub.Endpoint)
			webLog.Info("push_subscription_pruned", slog.Int("status", status))
			continue
		}
		webLog.Warn("push_send_failed",
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}
}

type vapidKeyFile struct {
	PublicKey  string    `json:"public_key"`
	PrivateKey string    `json:"private_key"`
	Subject    string    `json:"subject,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// loadOrCreateVAPIDKeys returns the persisted VAPID keypair from dataDir,
// generating and saving one on first use. The keypair must stay stable:
// rotating it silently invalidates every existing browser subscription.
func loadOrCreateVAPIDKeys(dataDir, subject string) (publicKey, privateKey string, err error) {
	path := filepath.Join(dataDir, vapidFile)

	if raw, readErr := os.ReadFile(path); readErr == nil {
		var kf vapidKeyFile
		if err := json.Unmarshal(raw, &kf); err != nil {
			return "", "", fmt.Errorf("parse vapid key file: %w", err)
		}
		pub := strings.TrimSpace(kf.PublicKey)
		priv := strings.TrimSpace(kf.PrivateKey)
		if pub == "" || priv == "" {
			return "", "", fmt.Errorf("vapid key file %s is incomplete", path)
		}
		return pub, priv, nil
	} else if !errors.Is(readErr, os.ErrNotExist) {
		return "", "", fmt.Errorf("read vapid key file: %w", readErr)
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate vapid keypair: %w", err)
	}
	webLog.Info("vapid_keys_generated", slog.String("dir", dataDir))

	kf := vapidKeyFile{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    subject,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal vapid keys: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", "", fmt.Errorf("create push data dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return "", "", fmt.Errorf("write vapid key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("rename vapid key file: %w", err)
	}
	return publicKey, privateKey, nil
}
