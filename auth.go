package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost       = 10
	minPassphraseLen = 4
	maxPassphraseLen = 72 // bcrypt input limit
	joinRateWindow   = 60 * time.Second
	maxJoinAttempts  = 10
	jwtSecretSetting = "jwt_secret"
	tokenIssuer      = "bvh-server"
)

// Auth handles session passphrases and viewer resume tokens
type Auth struct {
	jwtSecret []byte
	tokenTTL  time.Duration

	// Rate limiting for locked-session join attempts (IP -> attempts)
	rateMu    sync.Mutex
	rateMap   map[string]*rateEntry
	nextSweep time.Time
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// ViewerClaims are carried by resume tokens
type ViewerClaims struct {
	SessionID string `json:"sid"`
	ViewerID  string `json:"vid"`
	jwt.RegisteredClaims
}

// NewAuth creates a new Auth handler. db may be nil, in which case the token
// secret lives only as long as the process.
func NewAuth(db *DB, tokenTTL time.Duration, logger *zap.SugaredLogger) *Auth {
	return &Auth{
		jwtSecret: loadOrCreateSecret(db, logger),
		tokenTTL:  tokenTTL,
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB, logger *zap.SugaredLogger) []byte {
	if db != nil {
		if h := db.GetSetting(jwtSecretSetting); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting(jwtSecretSetting, hex.EncodeToString(secret)); err != nil {
			logger.Warnw("could not persist JWT secret", "error", err)
		}
	}
	return secret
}

// HashPassphrase validates and hashes a session passphrase
func (a *Auth) HashPassphrase(pass string) ([]byte, error) {
	if len(pass) < minPassphraseLen || len(pass) > maxPassphraseLen {
		return nil, fmt.Errorf("passphrase must be %d-%d characters", minPassphraseLen, maxPassphraseLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash passphrase: %w", err)
	}
	return hash, nil
}

// CheckPassphrase reports whether pass matches hash
func (a *Auth) CheckPassphrase(hash []byte, pass string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
}

// IssueToken returns a signed token that lets the viewer re-attach to sid
// without the passphrase
func (a *Auth) IssueToken(sid, viewerID string) (string, error) {
	now := time.Now()
	claims := ViewerClaims{
		SessionID: sid,
		ViewerID:  viewerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ValidateToken validates a resume token and returns its claims
func (a *Auth) ValidateToken(tokenStr string) (*ViewerClaims, error) {
	claims := &ViewerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// checkRate counts a join attempt from ip and reports whether it is allowed
func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	if now.After(a.nextSweep) {
		for k, e := range a.rateMap {
			if now.After(e.ResetAt) {
				delete(a.rateMap, k)
			}
		}
		a.nextSweep = now.Add(joinRateWindow)
	}
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(joinRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxJoinAttempts
}
