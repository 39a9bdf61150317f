package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
)

const (
	CallerAddressHeader   = "X-Caller-Address"
	CallerSignatureHeader = "X-Caller-Signature"
	CallerTimestampHeader = "X-Caller-Timestamp"

	callerLocal = "caller"
)

// SigningPayload is the text a caller signs with personal_sign (EIP-191).
func SigningPayload(method, path, timestamp string, body []byte) string {
	return fmt.Sprintf("%s\n%s\n%s\n%s", strings.ToUpper(method), path, timestamp, crypto.Keccak256Hash(body).Hex())
}

// CallerAuth recovers the caller address from an EIP-191 signature over the
// request and rejects requests whose timestamp drifts more than maxSkew.
// A signed request is accepted once; retries must be signed again with a new
// timestamp. A nil store keeps accepted signatures in process.
func CallerAuth(maxSkew time.Duration, now func() time.Time, seen SignatureStore) fiber.Handler {
	if now == nil {
		now = time.Now
	}
	if seen == nil {
		seen = NewMemorySignatures(now)
	}
	return func(c *fiber.Ctx) error {
		claimed := c.Get(CallerAddressHeader)
		if !common.IsHexAddress(claimed) {
			return fiber.NewError(http.StatusUnauthorized, "missing caller address")
		}
		ts := c.Get(CallerTimestampHeader)
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid caller timestamp")
		}
		if skew := now().Sub(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
			return fiber.NewError(http.StatusUnauthorized, "caller timestamp outside allowed window")
		}
		sig, err := hexutil.Decode(c.Get(CallerSignatureHeader))
		if err != nil || len(sig) != crypto.SignatureLength {
			return fiber.NewError(http.StatusUnauthorized, "invalid caller signature")
		}

		payload := SigningPayload(c.Method(), c.Path(), ts, c.Body())
		recovered, err := recoverSigner(payload, sig)
		if err != nil || recovered != common.HexToAddress(claimed) {
			return fiber.NewError(http.StatusUnauthorized, "signature does not match caller")
		}

		// Keyed on the signed message rather than the signature bytes, which
		// are malleable.
		key := recovered.Hex() + ":" + crypto.Keccak256Hash([]byte(payload)).Hex()
		fresh, err := seen.Remember(c.UserContext(), key, 2*maxSkew)
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "signature store unavailable")
		}
		if !fresh {
			return fiber.NewError(http.StatusUnauthorized, "signed request already used")
		}

		c.Locals(callerLocal, recovered)
		return c.Next()
	}
}

// Caller returns the authenticated caller set by CallerAuth.
func Caller(c *fiber.Ctx) (common.Address, bool) {
	addr, ok := c.Locals(callerLocal).(common.Address)
	return addr, ok
}

func recoverSigner(payload string, sig []byte) (common.Address, error) {
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(payload)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
