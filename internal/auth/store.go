// Package auth keeps the credential handed over by the login flow and gates
// the control API on it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Storage keys used by the mobile client, kept so both sides read the same slots.
const (
	keyAccessToken = "accessToken"
	keyUserInfo    = "userInfo"
)

var (
	ErrNoSession    = errors.New("session missing")
	ErrTokenExpired = errors.New("access token expired")
	errNoRedis      = errors.New("credential store unavailable")
	errEmptyToken   = errors.New("access token required")
)

type UserInfo struct {
	ID           any     `json:"id,omitempty"`
	EmployeeID   string  `json:"employee_id,omitempty"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Email        string  `json:"email,omitempty"`
	Phone        *string `json:"phone,omitempty"`
}

type Store struct {
	redis  *redis.Client
	prefix string
	now    func() time.Time
}

func NewStore(client *redis.Client, deviceID string) *Store {
	return &Store{
		redis:  client,
		prefix: "drivetracker:" + deviceID + ":",
		now:    time.Now,
	}
}

// Save replaces the stored credential and user.
func (s *Store) Save(ctx context.Context, token string, user UserInfo) error {
	if s.redis == nil {
		return errNoRedis
	}
	if token == "" {
		return errEmptyToken
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.prefix+keyAccessToken, token, 0)
		pipe.Set(ctx, s.prefix+keyUserInfo, payload, 0)
		return nil
	})
	return err
}

// AccessToken returns the stored bearer credential. A JWT whose exp has passed
// is reported as ErrTokenExpired; opaque tokens are returned as they are.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	if s.redis == nil {
		return "", ErrNoSession
	}
	token, err := s.redis.Get(ctx, s.prefix+keyAccessToken).Result()
	if errors.Is(err, redis.Nil) || (err == nil && token == "") {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	if tokenExpired(token, s.now()) {
		return "", ErrTokenExpired
	}
	return token, nil
}

func (s *Store) UserInfo(ctx context.Context) (UserInfo, error) {
	if s.redis == nil {
		return UserInfo{}, ErrNoSession
	}
	raw, err := s.redis.Get(ctx, s.prefix+keyUserInfo).Bytes()
	if errors.Is(err, redis.Nil) {
		return UserInfo{}, ErrNoSession
	}
	if err != nil {
		return UserInfo{}, err
	}
	var user UserInfo
	if err := json.Unmarshal(raw, &user); err != nil {
		return UserInfo{}, err
	}
	return user, nil
}

// Clear logs the device out.
func (s *Store) Clear(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Del(ctx, s.prefix+keyAccessToken, s.prefix+keyUserInfo).Err()
}

func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
