package utils

import (
	"crypto/rand"
	"math/big"
	"net/mail"
	"strings"
)

func EmailValid(email string) bool {
	address, err := mail.ParseAddress(email)
	return err == nil && address.Address == email
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomID returns a random alphanumeric identifier of the given length.
func RandomID(length int) (string, error) {
	if length <= 0 {
		length = 8
	}

	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(charset)))
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(charset[num.Int64()])
	}

	return b.String(), nil
}

// Paginate clamps a requested page and page size. Page numbers start at 1.
func Paginate(page, perPage, maxPerPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// PageCount returns how many pages of perPage items hold total items.
func PageCount(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
