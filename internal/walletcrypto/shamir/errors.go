package shamir

import "errors"

var (
	// ErrThresholdInvalid is returned when k < 2.
	ErrThresholdInvalid = errors.New("shamir: threshold k must be at least 2")

	// ErrSharesInsufficient is returned when n < k.
	ErrSharesInsufficient = errors.New("shamir: total shares n must be at least k")

	// ErrSharesExceedMax is returned when n > 255.
	ErrSharesExceedMax = errors.New("shamir: total shares n cannot exceed 255")

	// ErrSecretEmpty is returned when the Master Key is empty.
	ErrSecretEmpty = errors.New("shamir: master key cannot be empty")

	// ErrNoShares is returned when no shares are provided to Combine.
	ErrNoShares = errors.New("shamir: no shares provided")

	// ErrInvalidShareFormat is returned when a share string is malformed.
	ErrInvalidShareFormat = errors.New("shamir: invalid share format")

	// ErrUnsupportedVersion is returned when a share has an unknown version tag.
	ErrUnsupportedVersion = errors.New("shamir: unsupported share version")

	// ErrInvalidThreshold is returned when a share has an invalid threshold.
	ErrInvalidThreshold = errors.New("shamir: invalid threshold in share")

	// ErrInvalidIndex is returned when a share has an invalid index.
	ErrInvalidIndex = errors.New("shamir: invalid index in share")

	// ErrInvalidHex is returned when a share has invalid hex data.
	ErrInvalidHex = errors.New("shamir: invalid hex data in share")

	// ErrThresholdMismatch is returned when shares have conflicting thresholds.
	ErrThresholdMismatch = errors.New("shamir: shares have conflicting thresholds")

	// ErrLengthMismatch is returned when shares have conflicting lengths.
	ErrLengthMismatch = errors.New("shamir: shares have conflicting lengths")

	// ErrNotEnoughUniqueShares is returned when fewer than k unique shares are provided.
	ErrNotEnoughUniqueShares = errors.New("shamir: insufficient unique shares")
)
