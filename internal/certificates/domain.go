// Package certificates manages the signing keys of a business: keypair and
// CSR generation, encrypted storage of the private key, activation with the
// authority-issued certificate, and lookup of the certificate to sign with.
package certificates

import (
	"time"

	"github.com/google/uuid"
)

// Status of a certificate.
type Status string

const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// TypeCSID is the only certificate type issued today.
const TypeCSID = "CSID"

// Certificate is a stored keypair and its authority certificate.
type Certificate struct {
	ID              uuid.UUID
	BusinessID      uuid.UUID
	Type            string
	PublicKey       string
	PrivateKey      Envelope
	CSID            *string
	PCSID           *string
	CertificatePEM  *string
	Status          Status
	ExpiresAt       *time.Time
	ReissueRequired bool
	ActivatedAt     *time.Time
	CreatedAt       time.Time
}

// KeypairRequest describes the CSR subject.
type KeypairRequest struct {
	BusinessID   uuid.UUID `json:"-" validate:"required"`
	CommonName   string    `json:"commonName" validate:"required,max=200"`
	Organization string    `json:"organization" validate:"required,max=200"`
	Country      string    `json:"country" validate:"required,len=2,alpha"`
}

// KeypairResult is returned once, at generation time.
type KeypairResult struct {
	CertificateID uuid.UUID `json:"certificateId"`
	PublicKey     string    `json:"publicKey"`
	CSR           string    `json:"csr"`
}

// ActivateRequest carries the authority-issued certificate.
type ActivateRequest struct {
	CertificateID  uuid.UUID  `json:"-" validate:"required"`
	CertificatePEM string     `json:"certificatePem" validate:"required"`
	CSID           *string    `json:"csid" validate:"omitempty,max=4096"`
	PCSID          *string    `json:"pcsid" validate:"omitempty,max=4096"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}
