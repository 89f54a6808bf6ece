// Package keychain stores server and share secrets encrypted at rest.
package keychain

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/argon2"

	"github.com/Ning0612/dpsync/internal/domain"
)

// DBFileName is the secret database inside the data directory
const DBFileName = "secrets.db"

// PassphraseEnv overrides the machine-bound default passphrase
const PassphraseEnv = "DPSYNC_KEYCHAIN_PASSPHRASE"

// ErrWrongPassphrase is returned when the store was created with another passphrase
var ErrWrongPassphrase = errors.New("keychain passphrase does not match")

// Store reads and writes secrets by service and account
type Store interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

// ServiceForServer returns the service name of a package server's secret
func ServiceForServer(host string) string {
	return "dpsync/server/" + strings.ToLower(host)
}

// ServiceForShare returns the service name of a file share's password
func ServiceForShare(address string) string {
	host := address
	if u, err := url.Parse(address); err == nil && u.Host != "" {
		host = u.Host
	}
	return "dpsync/share/" + strings.ToLower(strings.TrimSuffix(host, "/"))
}

// ServiceForBucket returns the service name of an S3 secret access key
func ServiceForBucket(bucket string) string {
	return "dpsync/s3/" + bucket
}

// SQLiteStore keeps AES-GCM encrypted secrets in sqlite.
// The key is derived from a passphrase with argon2id.
type SQLiteStore struct {
	db  *sql.DB
	key []byte
}

// DefaultPassphrase returns the passphrase from the environment, or one bound
// to this user and host
func DefaultPassphrase() string {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p
	}
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	return "dpsync:" + host + ":" + home
}

// Open opens (or creates) the secret store in dataDir
func Open(dataDir, passphrase string) (*SQLiteStore, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(passphrase); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(passphrase string) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		name TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS secrets (
		service TEXT NOT NULL,
		account TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		nonce BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (service, account)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	salt, err := s.meta("salt")
	if errors.Is(err, sql.ErrNoRows) {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return err
		}
		s.key = deriveKey(passphrase, salt)
		return s.setMeta(map[string][]byte{"salt": salt, "verifier": verifier(s.key)})
	}
	if err != nil {
		return fmt.Errorf("failed to read salt: %w", err)
	}

	s.key = deriveKey(passphrase, salt)
	want, err := s.meta("verifier")
	if err != nil {
		return fmt.Errorf("failed to read verifier: %w", err)
	}
	if !bytes.Equal(want, verifier(s.key)) {
		return ErrWrongPassphrase
	}
	return nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

func verifier(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

func (s *SQLiteStore) meta(name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM meta WHERE name = ?`, name).Scan(&value)
	return value, err
}

func (s *SQLiteStore) setMeta(values map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for name, value := range values {
		if _, err := tx.Exec(`INSERT INTO meta (name, value) VALUES (?, ?)`, name, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Get returns the secret, or an error matching domain.ErrNotFound
func (s *SQLiteStore) Get(service, account string) (string, error) {
	var ciphertext, nonce []byte
	err := s.db.QueryRow(`SELECT ciphertext, nonce FROM secrets WHERE service = ? AND account = ?`,
		service, account).Scan(&ciphertext, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %s/%s: %w", service, account, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	aead, err := s.gcm()
	if err != nil {
		return "", err
	}
	// the service and account are authenticated so rows cannot be swapped
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(service+"\x00"+account))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s/%s: %w", service, account, err)
	}
	return string(plaintext), nil
}

// Set stores or replaces a secret
func (s *SQLiteStore) Set(service, account, secret string) error {
	aead, err := s.gcm()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ciphertext := aead.Seal(nil, nonce, []byte(secret), []byte(service+"\x00"+account))

	_, err = s.db.Exec(`
		INSERT INTO secrets (service, account, ciphertext, nonce) VALUES (?, ?, ?, ?)
		ON CONFLICT(service, account) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP`,
		service, account, ciphertext, nonce)
	if err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

// Delete removes a secret; removing a missing secret is not an error
func (s *SQLiteStore) Delete(service, account string) error {
	if _, err := s.db.Exec(`DELETE FROM secrets WHERE service = ? AND account = ?`, service, account); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
