package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/wiremesh/agent/internal/coorderr"
)

// Client is the Registry Client, a thin wrapper around the official
// Consul API client that implements listPeers/putOwnRecord/deleteRecord/
// getRecord and the session lifecycle operations named in the mesh
// coordinator design.
type Client struct {
	consul *consulapi.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient creates a Registry Client against the configured Consul agent.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, coorderr.New(coorderr.ClassValidation, "NewClient", err)
	}

	consulCfg := consulapi.DefaultConfig()
	consulCfg.Address = cfg.Address
	if cfg.Token != "" {
		consulCfg.Token = cfg.Token
	}

	c, err := consulapi.NewClient(consulCfg)
	if err != nil {
		return nil, coorderr.New(coorderr.ClassTransport, "NewClient", err)
	}

	return &Client{consul: c, cfg: cfg, logger: logger}, nil
}

// RecordKey returns the KV key under which publicKeyB64's own record is
// stored. Used by the up command to build the watch target the
// ownership verifier hands to GetRecord.
func (c *Client) RecordKey(publicKeyB64 string) (string, error) {
	return peerKey(c.cfg.Prefix, publicKeyB64)
}

// ListPeers enumerates every datacenter known to the local Consul agent
// and recursively reads all keys under <prefix>/peers/ in each, using a
// stale consistency hint. A missing prefix is treated as empty. Results
// from all datacenters are merged into a single set keyed by public key.
func (c *Client) ListPeers() (map[string]PeerRecord, error) {
	dcs, err := c.consul.Catalog().Datacenters()
	if err != nil {
		return nil, coorderr.New(coorderr.ClassTransport, "ListPeers: Datacenters", err)
	}
	if len(dcs) == 0 {
		dcs = []string{""}
	}

	out := make(map[string]PeerRecord)
	prefix := peersPrefix(c.cfg.Prefix)

	for _, dc := range dcs {
		pairs, _, err := c.consul.KV().List(prefix, &consulapi.QueryOptions{
			AllowStale: true,
			Datacenter: dc,
		})
		if err != nil {
			return nil, coorderr.New(coorderr.ClassTransport, fmt.Sprintf("ListPeers: List(%s)", dc), err)
		}

		for _, pair := range pairs {
			var rec PeerRecord
			if err := json.Unmarshal(pair.Value, &rec); err != nil {
				return nil, coorderr.New(coorderr.ClassDecode, fmt.Sprintf("ListPeers: decode %s", pair.Key), err)
			}
			out[rec.PublicKey] = rec
		}
	}

	return out, nil
}

// PutOwnRecord PUTs record under its own key with an acquire clause bound
// to session. It returns nil if the lock was acquired, and surfaces a
// false response from Consul (another session already holds the key) as
// a contention error rather than success.
func (c *Client) PutOwnRecord(session string, record PeerRecord) error {
	key, err := peerKey(c.cfg.Prefix, record.PublicKey)
	if err != nil {
		return coorderr.New(coorderr.ClassValidation, "PutOwnRecord", err)
	}

	value, err := json.Marshal(record)
	if err != nil {
		return coorderr.New(coorderr.ClassDecode, "PutOwnRecord: marshal", err)
	}

	acquired, _, err := c.consul.KV().Acquire(&consulapi.KVPair{
		Key:     key,
		Value:   value,
		Session: session,
	}, nil)
	if err != nil {
		return coorderr.New(coorderr.ClassTransport, "PutOwnRecord: Acquire", err)
	}
	if !acquired {
		return coorderr.Newf(coorderr.ClassContention, "PutOwnRecord", "key %s is locked by another session", key)
	}

	return nil
}

// DeleteRecord unconditionally removes the record for publicKeyB64. Used
// by the peer-timeout sweeper; idempotent.
func (c *Client) DeleteRecord(publicKeyB64 string) error {
	key, err := peerKey(c.cfg.Prefix, publicKeyB64)
	if err != nil {
		return coorderr.New(coorderr.ClassValidation, "DeleteRecord", err)
	}
	if _, err := c.consul.KV().Delete(key, nil); err != nil {
		return coorderr.New(coorderr.ClassTransport, "DeleteRecord", err)
	}
	return nil
}

// GetRecord performs a long-poll GET on key, blocking (subject to the
// Consul agent's own server-side max-wait) until the key changes or the
// wait elapses. lastIndex is the opaque index returned by a previous
// call on the same key, or 0 for the first call. It returns the UUID of
// the session currently locking the key and the new index. It fails if
// the key is absent or unlocked.
func (c *Client) GetRecord(key string, lastIndex uint64) (sessionID string, newIndex uint64, err error) {
	pair, meta, err := c.consul.KV().Get(key, &consulapi.QueryOptions{WaitIndex: lastIndex})
	if err != nil {
		return "", 0, coorderr.New(coorderr.ClassTransport, "GetRecord", err)
	}
	if pair == nil {
		return "", 0, coorderr.Newf(coorderr.ClassTransport, "GetRecord", "key %s does not exist", key)
	}
	if pair.Session == "" {
		return "", 0, coorderr.Newf(coorderr.ClassTransport, "GetRecord", "key %s is not locked by any session", key)
	}
	return pair.Session, meta.LastIndex, nil
}

// CreateSession opens a TTL'd session whose invalidation behavior is
// delete: on expiry, every key the session holds is removed. ttl must
// be at most MaxSessionTTL.
func (c *Client) CreateSession(name string, ttl time.Duration) (string, error) {
	if ttl > MaxSessionTTL {
		return "", coorderr.Newf(coorderr.ClassValidation, "CreateSession", "ttl %s exceeds maximum %s", ttl, MaxSessionTTL)
	}

	id, _, err := c.consul.Session().Create(&consulapi.SessionEntry{
		Name:     name,
		TTL:      ttlString(ttl),
		Behavior: consulapi.SessionBehaviorDelete,
	}, nil)
	if err != nil {
		return "", coorderr.New(coorderr.ClassTransport, "CreateSession", err)
	}
	return id, nil
}

// RenewSession renews the session, resetting its TTL countdown.
func (c *Client) RenewSession(id string) error {
	if _, _, err := c.consul.Session().Renew(id, nil); err != nil {
		return coorderr.New(coorderr.ClassTransport, "RenewSession", err)
	}
	return nil
}

// DestroySession destroys the session, deleting every key it still holds.
func (c *Client) DestroySession(id string) error {
	if _, err := c.consul.Session().Destroy(id, nil); err != nil {
		return coorderr.New(coorderr.ClassTransport, "DestroySession", err)
	}
	return nil
}

// ttlString renders a duration as the digit-string-plus-"s" form Consul
// expects for session TTLs, per the bounded-duration wire encoding.
func ttlString(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
