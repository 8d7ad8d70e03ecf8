// Package security はパスワードハッシュとトークンの署名・検証を提供する。
package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes はbcryptが受け付ける入力の最大バイト数。
const MaxPasswordBytes = 72

// ErrPasswordTooLong はパスワードがMaxPasswordBytesを超える場合に返す。
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// dummyPassword はダイジェストが存在しない場合の照合に使用する平文。
const dummyPassword = "authcore-dummy-password-for-timing"

// PasswordHasher はbcryptによるパスワードのハッシュ化と照合を行う。
// 平文パスワードをログに出力したり永続化してはならない。
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher は指定コストのPasswordHasherを生成する。
// コストは[bcrypt.MinCost, bcrypt.MaxCost]に丸め、0以下の場合はbcrypt.DefaultCostを使用する。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	h := &PasswordHasher{cost: cost}
	// 同じコストのダミーダイジェストを用意し、未設定時も同じ計算量で照合する
	if dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost); err == nil {
		h.dummy = dummy
	}
	return h
}

// Cost は使用するbcryptコストを返す。
func (h *PasswordHasher) Cost() int {
	return h.cost
}

// Hash はパスワードをbcryptでハッシュ化する。
// 失敗はインフラエラーとして扱い、認証失敗には変換しないこと。
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Verify は平文とダイジェストを定数時間で照合する。
// digestがnilまたは空の場合はダミーダイジェストと照合したうえでfalseを返す。
func (h *PasswordHasher) Verify(plaintext string, digest *string) bool {
	if digest == nil || *digest == "" {
		if h.dummy != nil {
			_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
		}
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*digest), []byte(plaintext)) == nil
}
