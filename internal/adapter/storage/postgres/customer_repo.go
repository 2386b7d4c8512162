package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"payment-collection-broker/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const selectCustomerColumns = `SELECT guid, first_name, surname, msisdn, date_of_birth, national_id, partner_guid,
		display_language, beneficiary_msisdn, beneficiary_name, external_id, registration_channel,
		account_number, account_type, branch_code, status, kyc_reference, kyc_details, rejection_reason,
		verified_at, last_kyc_fingerprint, created_at, updated_at
		FROM customers`

// CustomerStore implements ports.CustomerStore on PostgreSQL. Unique indices
// on msisdn and external_id hold across instances.
type CustomerStore struct {
	pool Pool
}

func NewCustomerStore(pool Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

// Put inserts a new customer.
func (s *CustomerStore) Put(ctx context.Context, c *domain.Customer) error {
	details, err := encodeKYCDetails(c.KYCDetails)
	if err != nil {
		return err
	}

	query := `INSERT INTO customers (guid, first_name, surname, msisdn, date_of_birth, national_id, partner_guid,
		display_language, beneficiary_msisdn, beneficiary_name, external_id, registration_channel,
		account_number, account_type, branch_code, status, kyc_reference, kyc_details, rejection_reason,
		verified_at, last_kyc_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err = s.pool.Exec(ctx, query,
		c.GUID, c.FirstName, c.Surname, c.MSISDN, c.DateOfBirth, c.NationalID, c.PartnerGUID,
		c.DisplayLanguage, nullString(c.BeneficiaryMSISDN), nullString(c.BeneficiaryName),
		nullString(c.ExternalID), c.RegistrationChannel,
		nullString(c.AccountNumber), nullString(c.AccountType), nullString(c.BranchCode),
		c.Status, nullString(c.KYCReference), details, c.RejectionReason,
		c.VerifiedAt, c.LastKYCFingerprint, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintCustomerMSISDN:
				return domain.ErrDuplicateMSISDN
			case constraintCustomerExternalID:
				return domain.ErrDuplicateExternalID
			case constraintCustomerPK:
				return domain.ErrDuplicateCustomerGUID
			}
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *CustomerStore) Get(ctx context.Context, guid string) (*domain.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx, selectCustomerColumns+` WHERE guid = $1`, guid))
}

func (s *CustomerStore) FindByMSISDN(ctx context.Context, msisdn string) (*domain.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx, selectCustomerColumns+` WHERE msisdn = $1`, msisdn))
}

func (s *CustomerStore) FindByExternalID(ctx context.Context, externalID string) (*domain.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx, selectCustomerColumns+` WHERE external_id = $1`, externalID))
}

// CompareAndSwap updates the verification columns when the stored KYC
// fingerprint still equals expected.
func (s *CustomerStore) CompareAndSwap(ctx context.Context, c *domain.Customer, expected *string) error {
	details, err := encodeKYCDetails(c.KYCDetails)
	if err != nil {
		return err
	}

	query := `UPDATE customers
		SET status = $1, kyc_details = $2, rejection_reason = $3, verified_at = $4,
			last_kyc_fingerprint = $5, updated_at = $6
		WHERE guid = $7 AND last_kyc_fingerprint IS NOT DISTINCT FROM $8`

	tag, err := s.pool.Exec(ctx, query,
		c.Status, details, c.RejectionReason, c.VerifiedAt,
		c.LastKYCFingerprint, c.UpdatedAt, c.GUID, expected,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE guid = $1)`, c.GUID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check customer: %w", err)
	}
	if !exists {
		return domain.ErrCustomerNotFound
	}
	return domain.ErrStaleRecord
}

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	c := &domain.Customer{}
	var beneficiaryMSISDN, beneficiaryName, externalID, accountNumber, accountType, branchCode, kycRef *string
	var details []byte
	err := row.Scan(
		&c.GUID, &c.FirstName, &c.Surname, &c.MSISDN, &c.DateOfBirth, &c.NationalID, &c.PartnerGUID,
		&c.DisplayLanguage, &beneficiaryMSISDN, &beneficiaryName, &externalID, &c.RegistrationChannel,
		&accountNumber, &accountType, &branchCode, &c.Status, &kycRef, &details, &c.RejectionReason,
		&c.VerifiedAt, &c.LastKYCFingerprint, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}

	c.BeneficiaryMSISDN = deref(beneficiaryMSISDN)
	c.BeneficiaryName = deref(beneficiaryName)
	c.ExternalID = deref(externalID)
	c.AccountNumber = deref(accountNumber)
	c.AccountType = deref(accountType)
	c.BranchCode = deref(branchCode)
	c.KYCReference = deref(kycRef)

	if len(details) > 0 {
		c.KYCDetails = &domain.KYCDetails{}
		if err := json.Unmarshal(details, c.KYCDetails); err != nil {
			return nil, fmt.Errorf("decode kyc details: %w", err)
		}
	}
	return c, nil
}

func encodeKYCDetails(d *domain.KYCDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode kyc details: %w", err)
	}
	return b, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
