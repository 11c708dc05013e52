package walletservice_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	"github.com/mrz1836/sigilvault/internal/walletservice"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

func newTestService(t *testing.T) *walletservice.Service {
	t.Helper()
	backends := map[string]storage.Factory{
		"default": sqlitestore.New(t.TempDir()),
	}
	svc := walletservice.NewService(backends, 0)
	t.Cleanup(svc.Close)
	return svc
}

func testConfig(id string) walletservice.Config {
	return walletservice.Config{ID: id, StorageType: "default"}
}

func testCreds(passphrase string) walletservice.Credentials {
	return walletservice.Credentials{Key: passphrase, KeyDerivationMethod: walletcrypto.Argon2iMod}
}

func openWallet(t *testing.T, svc *walletservice.Service, id, passphrase string) uint64 {
	t.Helper()
	ctx := context.Background()

	cfg := testConfig(id)
	creds := testCreds(passphrase)
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	handle, directive, rekeyDirective, err := svc.OpenWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)
	assert.Nil(t, rekeyDirective)

	masterKey, err := walletcrypto.DeriveMasterKey(passphrase, directive.Method, directive.Salt)
	require.NoError(t, err)

	got, err := svc.OpenWalletContinue(ctx, handle, masterKey, nil)
	require.NoError(t, err)
	assert.Equal(t, handle, got)
	return handle
}

// reopenWallet runs the open prepare/continue pair against a wallet that
// already exists, without creating it first.
func reopenWallet(t *testing.T, svc *walletservice.Service, id, passphrase string) uint64 {
	t.Helper()
	ctx := context.Background()

	handle, directive, _, err := svc.OpenWalletPrepare(ctx, testConfig(id), testCreds(passphrase))
	require.NoError(t, err)

	masterKey, err := walletcrypto.DeriveMasterKey(passphrase, directive.Method, directive.Salt)
	require.NoError(t, err)

	got, err := svc.OpenWalletContinue(ctx, handle, masterKey, nil)
	require.NoError(t, err)
	assert.Equal(t, handle, got)
	return handle
}

func TestService_CreateOpenAddCloseRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	handle := openWallet(t, svc, "alpha", "correct horse battery staple")

	w, err := svc.Wallet(handle)
	require.NoError(t, err)

	rec := record.Record{Type: "Indy::credential", Name: "bob", Value: []byte("secret-value")}
	require.NoError(t, w.Add(ctx, rec))

	got, err := w.Get(ctx, rec.Type, rec.Name, record.Options{RetrieveValue: true})
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)

	require.NoError(t, svc.CloseWallet(handle))

	_, err = svc.Wallet(handle)
	assert.ErrorIs(t, err, walleterr.ErrInvalidWalletHandle)
}

func TestService_DoubleOpenSameIDRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	cfg := testConfig("beta")
	creds := testCreds("passphrase-one")

	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	_, _, _, err := svc.OpenWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)

	_, _, _, err = svc.OpenWalletPrepare(ctx, cfg, creds)
	assert.ErrorIs(t, err, walleterr.ErrWalletAlreadyOpened)
}

func TestService_OpenWrongPassphraseFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	cfg := testConfig("gamma")
	creds := testCreds("right-passphrase")
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	handle, directive, _, err := svc.OpenWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)

	wrongKey, err := walletcrypto.DeriveMasterKey("wrong-passphrase", directive.Method, directive.Salt)
	require.NoError(t, err)

	_, err = svc.OpenWalletContinue(ctx, handle, wrongKey, nil)
	assert.ErrorIs(t, err, walleterr.ErrWalletAccessFailed)

	// the failed attempt must release the reservation, letting a retry
	// with the right key claim the same id.
	handle2, directive2, _, err := svc.OpenWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)
	rightKey, err := walletcrypto.DeriveMasterKey("right-passphrase", directive2.Method, directive2.Salt)
	require.NoError(t, err)
	_, err = svc.OpenWalletContinue(ctx, handle2, rightKey, nil)
	require.NoError(t, err)
}

func TestService_RekeyOnOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	cfg := testConfig("delta")
	creds := testCreds("old-passphrase")
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	rekeyCreds := creds
	rekeyCreds.Rekey = "new-passphrase"
	rekeyCreds.RekeyDerivationMethod = walletcrypto.Argon2iMod

	handle, directive, rekeyDirective, err := svc.OpenWalletPrepare(ctx, cfg, rekeyCreds)
	require.NoError(t, err)
	require.NotNil(t, rekeyDirective)

	masterKey, err := walletcrypto.DeriveMasterKey("old-passphrase", directive.Method, directive.Salt)
	require.NoError(t, err)
	rekeyMasterKey, err := walletcrypto.DeriveMasterKey("new-passphrase", rekeyDirective.Method, rekeyDirective.Salt)
	require.NoError(t, err)

	_, err = svc.OpenWalletContinue(ctx, handle, masterKey, rekeyMasterKey)
	require.NoError(t, err)
	require.NoError(t, svc.CloseWallet(handle))

	handle2 := reopenWallet(t, svc, "delta", "new-passphrase")
	require.NoError(t, svc.CloseWallet(handle2))
}

func TestService_DeleteWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	cfg := testConfig("epsilon")
	creds := testCreds("delete-me")
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	handle, directive, err := svc.DeleteWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)

	masterKey, err := walletcrypto.DeriveMasterKey("delete-me", directive.Method, directive.Salt)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWalletContinue(ctx, handle, masterKey))

	// the id is free again: creating a fresh wallet under it succeeds.
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))
}

func TestService_DeleteWrongPassphraseLeavesWalletIntact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)
	cfg := testConfig("zeta")
	creds := testCreds("keep-me")
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	handle, directive, err := svc.DeleteWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)

	wrongKey, err := walletcrypto.DeriveMasterKey("not-it", directive.Method, directive.Salt)
	require.NoError(t, err)

	err = svc.DeleteWalletContinue(ctx, handle, wrongKey)
	assert.ErrorIs(t, err, walleterr.ErrWalletAccessFailed)

	openHandle := reopenWallet(t, svc, "zeta", "keep-me")
	require.NoError(t, svc.CloseWallet(openHandle))
}

func TestService_UnknownStorageTypeSuggestsClosestMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	cfg := walletservice.Config{ID: "eta", StorageType: "defualt"}
	err := svc.CreateWallet(ctx, cfg, testCreds("whatever"))

	require.ErrorIs(t, err, walleterr.ErrUnknownStorageType)
	var walletErr *walleterr.WalletError
	require.ErrorAs(t, err, &walletErr)
	assert.Equal(t, "default", walletErr.Suggestion)
}

func TestService_ImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	srcHandle := openWallet(t, svc, "theta-src", "source-passphrase")
	srcWallet, err := svc.Wallet(srcHandle)
	require.NoError(t, err)

	rec := record.Record{Type: "Indy::credential", Name: "carol", Value: []byte("exported-secret"), Tags: map[string]string{"~role": "admin"}}
	require.NoError(t, srcWallet.Add(ctx, rec))

	var archive bytes.Buffer
	require.NoError(t, srcWallet.Export(ctx, &archive, wallet.ExportOptions{
		Passphrase: "export-passphrase",
		Method:     walletcrypto.Argon2iMod,
		ChunkSize:  1024,
	}))
	require.NoError(t, svc.CloseWallet(srcHandle))

	destCfg := testConfig("theta-dest")
	destCreds := testCreds("dest-passphrase")

	importHandle, importDirective, destDirective, err := svc.ImportWalletPrepare(ctx, &archive, destCfg, destCreds)
	require.NoError(t, err)

	importMasterKey, err := walletcrypto.DeriveMasterKey("export-passphrase", importDirective.Method, importDirective.Salt)
	require.NoError(t, err)
	destMasterKey, err := walletcrypto.DeriveMasterKey("dest-passphrase", destDirective.Method, destDirective.Salt)
	require.NoError(t, err)

	finishedHandle, err := svc.ImportWalletContinue(ctx, importHandle, importMasterKey, destMasterKey)
	require.NoError(t, err)
	assert.Equal(t, importHandle, finishedHandle)

	destWallet, err := svc.Wallet(finishedHandle)
	require.NoError(t, err)

	got, err := destWallet.Get(ctx, rec.Type, rec.Name, record.Options{RetrieveValue: true, RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, rec.Tags, got.Tags)

	require.NoError(t, svc.CloseWallet(finishedHandle))
}

func TestService_ImportWrongPassphraseRollsBackDestination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t)

	srcHandle := openWallet(t, svc, "iota-src", "source-passphrase")
	srcWallet, err := svc.Wallet(srcHandle)
	require.NoError(t, err)
	require.NoError(t, srcWallet.Add(ctx, record.Record{Type: "t", Name: "n", Value: []byte("v")}))

	var archive bytes.Buffer
	require.NoError(t, srcWallet.Export(ctx, &archive, wallet.ExportOptions{
		Passphrase: "export-passphrase",
		Method:     walletcrypto.Argon2iMod,
		ChunkSize:  1024,
	}))
	require.NoError(t, svc.CloseWallet(srcHandle))

	destCfg := testConfig("iota-dest")
	destCreds := testCreds("dest-passphrase")

	importHandle, importDirective, destDirective, err := svc.ImportWalletPrepare(ctx, &archive, destCfg, destCreds)
	require.NoError(t, err)

	importMasterKey, err := walletcrypto.DeriveMasterKey("wrong-export-passphrase", importDirective.Method, importDirective.Salt)
	require.NoError(t, err)
	destMasterKey, err := walletcrypto.DeriveMasterKey("dest-passphrase", destDirective.Method, destDirective.Salt)
	require.NoError(t, err)

	_, err = svc.ImportWalletContinue(ctx, importHandle, importMasterKey, destMasterKey)
	assert.Error(t, err)

	// the destination id must be free again: rollback deleted the
	// partially-created storage and released the reservation.
	require.NoError(t, svc.CreateWallet(ctx, destCfg, destCreds))
}

func TestService_SweeperReleasesStalePrepare(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backends := map[string]storage.Factory{"default": sqlitestore.New(t.TempDir())}
	svc := walletservice.NewService(backends, 10*time.Millisecond)
	t.Cleanup(svc.Close)

	cfg := testConfig("kappa")
	creds := testCreds("stale-passphrase")
	require.NoError(t, svc.CreateWallet(ctx, cfg, creds))

	_, _, _, err := svc.OpenWalletPrepare(ctx, cfg, creds)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, err := svc.OpenWalletPrepare(ctx, cfg, creds)
		return err == nil
	}, time.Second, 10*time.Millisecond)
}
