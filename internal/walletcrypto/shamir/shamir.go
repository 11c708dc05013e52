// Package shamir implements Shamir's Secret Sharing over GF(2^8) for
// Master Key recovery: a derived Master Key can be split into n shares
// such that any k of them reconstruct it, without the full key ever
// being reassembled outside of a recovery operation.
package shamir

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// shareTag prefixes every share string produced by Split, identifying
// the format and guarding against mixing shares from unrelated splits.
const shareTag = "walletkeyv1"

// Split divides a Master Key into n shares, requiring k to reconstruct.
func Split(masterKey []byte, n, k int) ([]string, error) {
	if k < 2 {
		return nil, ErrThresholdInvalid
	}
	if n < k {
		return nil, ErrSharesInsufficient
	}
	if n > 255 {
		return nil, ErrSharesExceedMax
	}
	if len(masterKey) == 0 {
		return nil, ErrSecretEmpty
	}

	coeffs, err := generateCoefficients(len(masterKey), k)
	if err != nil {
		return nil, err
	}

	return evaluatePolynomials(masterKey, coeffs, n, k)
}

func generateCoefficients(secretLen, k int) ([]byte, error) {
	numCoeffs := secretLen * (k - 1)
	coeffs := make([]byte, numCoeffs)
	if _, err := rand.Read(coeffs); err != nil {
		return nil, fmt.Errorf("shamir: generating coefficients: %w", err)
	}
	return coeffs, nil
}

// evaluatePolynomials builds one degree-(k-1) polynomial per secret
// byte, f_i(x) = secret[i] + c_1*x + ... + c_(k-1)*x^(k-1), and
// evaluates each at x = 1..n to produce the shares.
func evaluatePolynomials(secret, coeffs []byte, n, k int) ([]string, error) {
	shares := make([]string, n)

	for x := 1; x <= n; x++ {
		shareValue := make([]byte, len(secret))
		xByte := byte(x)

		for i, secretByte := range secret {
			coeffStart := i * (k - 1)

			val := secretByte
			xPoly := xByte

			for j := 0; j < k-1; j++ {
				c := coeffs[coeffStart+j]
				term := gfMul(c, xPoly)
				val = gfAdd(val, term)

				if j < k-2 {
					xPoly = gfMul(xPoly, xByte)
				}
			}
			shareValue[i] = val
		}

		shares[x-1] = fmt.Sprintf("%s-%d-%d-%x", shareTag, k, x, shareValue)
	}

	return shares, nil
}

// Combine reconstructs a Master Key from at least k of its shares.
func Combine(shareStrings []string) ([]byte, error) {
	if len(shareStrings) == 0 {
		return nil, ErrNoShares
	}

	uniqueShares, secretLen, err := parseAndValidateShares(shareStrings)
	if err != nil {
		return nil, err
	}

	return interpolateSecret(uniqueShares, secretLen)
}

type parsedShare struct {
	x byte
	y []byte
}

func parseAndValidateShares(shareStrings []string) ([]parsedShare, int, error) {
	uniqueShares, firstThreshold, secretLen, err := processShares(shareStrings)
	if err != nil {
		return nil, 0, err
	}

	if len(uniqueShares) < firstThreshold {
		return nil, 0, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughUniqueShares, len(uniqueShares), firstThreshold)
	}

	return uniqueShares, secretLen, nil
}

//nolint:gocognit // mirrors the validation shape of the upstream split/combine pair
func processShares(shareStrings []string) ([]parsedShare, int, int, error) {
	var firstThreshold int
	var secretLen int
	var uniqueShares []parsedShare
	usedIndices := make(map[byte]bool)

	for _, s := range shareStrings {
		p, k, err := parseShare(s)
		if err != nil {
			return nil, 0, 0, err
		}

		if len(uniqueShares) == 0 {
			firstThreshold = k
			secretLen = len(p.y)
		}

		if err := validateShare(p, k, firstThreshold, secretLen); err != nil {
			return nil, 0, 0, err
		}

		if usedIndices[p.x] {
			continue
		}

		usedIndices[p.x] = true
		uniqueShares = append(uniqueShares, p)

		if len(uniqueShares) == firstThreshold {
			break
		}
	}
	return uniqueShares, firstThreshold, secretLen, nil
}

func validateShare(p parsedShare, k, firstThreshold, secretLen int) error {
	if k != firstThreshold {
		return ErrThresholdMismatch
	}
	if len(p.y) != secretLen {
		return ErrLengthMismatch
	}
	return nil
}

func parseShare(s string) (parsedShare, int, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return parsedShare{}, 0, fmt.Errorf("%w: %s", ErrInvalidShareFormat, s)
	}

	if parts[0] != shareTag {
		return parsedShare{}, 0, fmt.Errorf("%w: %s", ErrUnsupportedVersion, s)
	}

	k, err := strconv.Atoi(parts[1])
	if err != nil {
		return parsedShare{}, 0, fmt.Errorf("%w: %s", ErrInvalidThreshold, s)
	}

	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 1 || idx > 255 {
		return parsedShare{}, 0, fmt.Errorf("%w: %s", ErrInvalidIndex, s)
	}

	val, err := hex.DecodeString(parts[3])
	if err != nil {
		return parsedShare{}, 0, fmt.Errorf("%w: %s", ErrInvalidHex, s)
	}

	return parsedShare{x: byte(idx), y: val}, k, nil
}

// interpolateSecret reconstructs the secret via Lagrange interpolation
// at x=0, reusing the same weights across every secret byte since all
// shares share the same set of x-coordinates.
func interpolateSecret(uniqueShares []parsedShare, secretLen int) ([]byte, error) {
	weights := make([]byte, len(uniqueShares))
	for i, sI := range uniqueShares {
		weight := byte(1)
		for j, sJ := range uniqueShares {
			if i == j {
				continue
			}
			top := sJ.x
			bottom := gfSub(sJ.x, sI.x)
			factor := gfDiv(top, bottom)
			weight = gfMul(weight, factor)
		}
		weights[i] = weight
	}

	secret := make([]byte, secretLen)
	for i := 0; i < secretLen; i++ {
		var val byte
		for j, s := range uniqueShares {
			term := gfMul(s.y[i], weights[j])
			val = gfAdd(val, term)
		}
		secret[i] = val
	}

	return secret, nil
}
