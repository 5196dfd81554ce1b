package api

import (
	"zonedispatch/internal/auth"
	"zonedispatch/internal/config"
	"zonedispatch/internal/dispatch"
	"zonedispatch/internal/geocode"
	"zonedispatch/internal/presence"
	"zonedispatch/internal/store"
	"zonedispatch/internal/webhooks"
	"zonedispatch/internal/zones"
)

type Server struct {
	Config   config.Config
	Store    store.Store
	Zones    *zones.Registry
	Pricing  *zones.Pricing
	Dispatch *dispatch.Service
	Presence *presence.Tracker
	Geocoder *geocode.Resolver
	Pub      *webhooks.Publisher
	Auth     *auth.Verifier
	Broker   EventBroker

	limiter *ipLimiter
}

// Deps are the collaborators chosen by cmd/api. Nil fields fall back to
// in-process defaults: PresenceStore to Store, Broker to an in-memory broker.
// A nil Geocoder disables the resolve endpoint.
type Deps struct {
	Store         store.Store
	PresenceStore presence.Store
	Broker        EventBroker
	Geocoder      *geocode.Resolver
}

// NewServer wires the domain services over the given dependencies.
func NewServer(cfg config.Config, d Deps) *Server {
	if d.Store == nil {
		d.Store = store.NewMemory()
	}
	if d.PresenceStore == nil {
		d.PresenceStore = d.Store
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	reg := zones.NewRegistry(d.Store)
	pricing := zones.NewPricing(d.Store, reg)
	tracker := presence.NewTracker(d.PresenceStore, cfg.LivenessWindow)
	pub := webhooks.NewPublisher(d.Store)
	notifier := &JobNotifier{Broker: d.Broker, Pub: pub}
	return &Server{
		Config:   cfg,
		Store:    d.Store,
		Zones:    reg,
		Pricing:  pricing,
		Dispatch: dispatch.NewService(d.Store, tracker, pricing, notifier),
		Presence: tracker,
		Geocoder: d.Geocoder,
		Pub:      pub,
		Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker:   d.Broker,
		limiter:  newIPLimiter(cfg.RateRPS, cfg.RateBurst),
	}
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Config.WebhookMaxAttempts)
}
