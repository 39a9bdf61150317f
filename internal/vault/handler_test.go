package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"

	"github.com/kipu-bank/kipu_bank/internal/asset"
	"github.com/kipu-bank/kipu_bank/internal/custody"
	"github.com/kipu-bank/kipu_bank/internal/middleware"
)

func newTestApp(f *fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Get("/vault", h.Summary)
	app.Get("/vault/holders/:holder/balances/:asset", h.Balance)
	auth := middleware.CallerAuth(time.Minute, func() time.Time { return clockTime }, nil)
	app.Post("/vault/deposits/native", auth, h.DepositNative)
	app.Post("/vault/deposits/token", auth, h.DepositToken)
	app.Post("/vault/withdrawals", auth, h.Withdraw)
	return app
}

func signed(t *testing.T, key *ecdsa.PrivateKey, path, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(clockTime.Unix(), 10)
	sig, err := crypto.Sign(accounts.TextHash([]byte(middleware.SigningPayload(fiber.MethodPost, path, ts, []byte(body)))), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(middleware.CallerAddressHeader, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(middleware.CallerTimestampHeader, ts)
	req.Header.Set(middleware.CallerSignatureHeader, hexutil.Encode(sig))
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func TestHandlerDepositAndWithdraw(t *testing.T) {
	f := newFixture(t, millionUSD)
	app := newTestApp(f)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	holder := crypto.PubkeyToAddress(key.PublicKey)
	f.custody.Fund(holder, asset.Native(), units(100, 18))

	resp, err := app.Test(signed(t, key, "/vault/deposits/native", `{"amount":"100000000000000000000","tx_ref":"tx-1"}`))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	dep := decode[OperationResponse](t, resp)
	if dep.USD != "200000.000000" || dep.Holder != holder.Hex() || dep.Reference != "tx-1" {
		t.Fatalf("unexpected deposit response %+v", dep)
	}

	resp, err = app.Test(signed(t, key, "/vault/withdrawals", `{"asset":"native","amount":"200000000000000000000"}`))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overdraft got %d", resp.StatusCode)
	}

	resp, err = app.Test(signed(t, key, "/vault/withdrawals", `{"asset":"native","amount":"40000000000000000000"}`))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/vault/holders/"+holder.Hex()+"/balances/native", nil))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	bal := decode[map[string]string](t, resp)
	if bal["balance"] != units(60, 18).String() {
		t.Fatalf("unexpected balance %v", bal)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/vault", nil))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	summary := decode[map[string]any](t, resp)
	if summary["cap_usd"] != "1000000.000000" || summary["total_usd"] != "120000.000000" {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestHandlerRejectsNativeOnTokenPathAndBadAmounts(t *testing.T) {
	f := newFixture(t, millionUSD)
	app := newTestApp(f)
	key, _ := crypto.GenerateKey()

	resp, err := app.Test(signed(t, key, "/vault/deposits/token", `{"token":"native","amount":"1"}`))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}

	resp, err = app.Test(signed(t, key, "/vault/withdrawals", `{"asset":"native","amount":"1.5"}`))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}

	resp, err = app.Test(signed(t, key, "/vault/deposits/native", `{"amount":"0","tx_ref":"x"}`))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.StatusCode)
	}
	if f.total(t).Cmp(new(big.Int)) != 0 {
		t.Fatal("rejected requests must not change the total")
	}
}

func TestHandlerTokenWithoutMetadataIsUnprocessable(t *testing.T) {
	f := newFixture(t, millionUSD)
	app := newTestApp(f)
	key, _ := crypto.GenerateKey()

	// The test registry prices this token but no decimals are known for it.
	unlisted := common.HexToAddress("0x00000000000000000000000000000000000b0b0b")
	if err := f.registry.SetBinding(context.Background(), admin, asset.Token(unlisted), usdcFeed); err != nil {
		t.Fatalf("bind: %v", err)
	}

	resp, err := app.Test(signed(t, key, "/vault/deposits/token", `{"token":"`+unlisted.Hex()+`","amount":"1"}`))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.StatusCode)
	}
}

func TestHandlerUnconfirmedWithdrawalIsAccepted(t *testing.T) {
	f := newFixtureWith(t, millionUSD, func(sim *custody.Simulated) custody.Transferer {
		return unconfirmedTransfers{Simulated: sim, release: true}
	})
	app := newTestApp(f)
	key, _ := crypto.GenerateKey()
	holder := crypto.PubkeyToAddress(key.PublicKey)
	if _, err := f.depositNative(t, holder, big.NewInt(5), "tx-5"); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	resp, err := app.Test(signed(t, key, "/vault/withdrawals", `{"asset":"native","amount":"5"}`))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.StatusCode)
	}
	out := decode[OperationResponse](t, resp)
	if out.Confirmed || out.Reference != "0xrelease" || out.Balance != "0" {
		t.Fatalf("unexpected response %+v", out)
	}
}
