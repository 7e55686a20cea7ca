package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// Component directories relative to this file
const (
	clientPath      = "../../e2e/clients/go-http"
	serverPath      = "../../e2e/servers/gin"
	facilitatorPath = "../../e2e/facilitators/go"
)

const (
	serverPort      = "4021"
	facilitatorPort = "4022"
	anvilPort       = "8546"
	anvilChainID    = "84532" // mimics Base Sepolia

	// anvil account 0
	deployerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

// proxyVars are stripped from child environments so local traffic
// doesn't get routed out.
var proxyVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}

// TestFullPaymentFlow runs the complete stack against a local anvil
// chain: facilitator and resource server as separate processes, a paying
// client hitting a protected route, and real on-chain settlement against
// mock USDC and facilitator contracts.
func TestFullPaymentFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}

	tmpDir := t.TempDir()
	clientBin := filepath.Join(tmpDir, "client")
	serverBin := filepath.Join(tmpDir, "server")
	facilitatorBin := filepath.Join(tmpDir, "facilitator")

	t.Log("building binaries")
	buildBinary(t, clientPath, clientBin)
	buildBinary(t, serverPath, serverBin)
	buildBinary(t, facilitatorPath, facilitatorBin)

	t.Log("starting anvil")
	anvilCmd := exec.Command("anvil", "--port", anvilPort, "--chain-id", anvilChainID, "--host", "127.0.0.1")
	anvilCmd.Env = withoutEnv(os.Environ(), proxyVars...)
	anvilCmd.Stdout = os.Stdout
	anvilCmd.Stderr = os.Stderr
	require.NoError(t, anvilCmd.Start(), "failed to start anvil")
	defer func() { _ = anvilCmd.Process.Kill() }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", "127.0.0.1:"+anvilPort)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 30*time.Second, 1*time.Second, "anvil did not come up")

	t.Log("compiling contracts")
	compileContracts(t)

	ctx := context.Background()
	client, err := ethclient.Dial("http://127.0.0.1:" + anvilPort)
	require.NoError(t, err)

	mockUSDCAddr, mockUSDCABI := deployContract(t, ctx, client, "MockUSDC")
	t.Logf("MockUSDC at %s", mockUSDCAddr.Hex())
	mockFacilitatorAddr, _ := deployContract(t, ctx, client, "MockFacilitator")
	t.Logf("MockFacilitator at %s", mockFacilitatorAddr.Hex())

	deployerPK, _ := crypto.HexToECDSA(strings.TrimPrefix(deployerKey, "0x"))
	deployerAddr := crypto.PubkeyToAddress(deployerPK.PublicKey)

	// Fund the payer and pre-approve the facilitator contract.
	amount := big.NewInt(1000000)
	txData, err := mockUSDCABI.Pack("mint", deployerAddr, amount)
	require.NoError(t, err)
	sendTx(t, ctx, client, mockUSDCAddr, txData)

	txData, err = mockUSDCABI.Pack("approve", mockFacilitatorAddr, amount)
	require.NoError(t, err)
	sendTx(t, ctx, client, mockUSDCAddr, txData)

	// The facilitator binary requires an SVM key at startup even though
	// this flow only exercises EVM.
	svmKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	env := withoutEnv(os.Environ(), proxyVars...)
	env = append(env,
		fmt.Sprintf("EVM_PRIVATE_KEY=%s", strings.TrimPrefix(deployerKey, "0x")),
		fmt.Sprintf("SVM_PRIVATE_KEY=%s", svmKey.String()),
		fmt.Sprintf("EVM_RPC_URL=http://127.0.0.1:%s", anvilPort),
		fmt.Sprintf("EVM_FACILITATOR_CONTRACT_ADDRESS=%s", mockFacilitatorAddr.Hex()),
		fmt.Sprintf("EVM_USDC_ADDRESS=%s", mockUSDCAddr.Hex()),
	)

	t.Log("starting facilitator")
	facilitatorCmd := exec.Command(facilitatorBin)
	facilitatorCmd.Env = append(env, fmt.Sprintf("PORT=%s", facilitatorPort))
	facilitatorCmd.Stdout = os.Stdout
	facilitatorCmd.Stderr = os.Stderr
	require.NoError(t, facilitatorCmd.Start())
	defer func() { _ = facilitatorCmd.Process.Kill() }()
	time.Sleep(2 * time.Second)

	t.Log("starting resource server")
	serverCmd := exec.Command(serverBin)
	serverCmd.Env = append(env,
		fmt.Sprintf("PORT=%s", serverPort),
		fmt.Sprintf("FACILITATOR_URL=http://localhost:%s", facilitatorPort),
		fmt.Sprintf("EVM_PAYEE_ADDRESS=%s", deployerAddr.Hex()),
		"SVM_PAYEE_ADDRESS=MockSvmAddress111111111111111111111111111111",
	)
	serverCmd.Stdout = os.Stdout
	serverCmd.Stderr = os.Stderr
	require.NoError(t, serverCmd.Start())
	defer func() {
		_ = serverCmd.Process.Signal(os.Interrupt)
		time.Sleep(500 * time.Millisecond)
		_ = serverCmd.Process.Kill()
	}()
	time.Sleep(2 * time.Second)

	t.Run("evm payment settles on the local chain", func(t *testing.T) {
		clientCmd := exec.Command(clientBin)
		clientCmd.Env = append(env,
			fmt.Sprintf("RESOURCE_SERVER_URL=http://localhost:%s", serverPort),
			"ENDPOINT_PATH=/protected",
		)

		output, err := clientCmd.CombinedOutput()
		t.Logf("client output: %s", string(output))
		require.NoError(t, err, "client failed to run")

		var result struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		jsonStr := extractJSON(string(output))
		require.NoError(t, json.Unmarshal([]byte(jsonStr), &result), "failed to parse client output: %s", jsonStr)

		if !result.Success {
			t.Fatalf("payment flow failed: %s", result.Error)
		}
	})
}

func withoutEnv(env []string, keys ...string) []string {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	var filtered []string
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if drop[name] {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func buildBinary(t *testing.T, srcPath, destPath string) {
	cmd := exec.Command("go", "build", "-o", destPath, ".")
	cmd.Dir = srcPath
	cmd.Env = append(withoutEnv(os.Environ(), proxyVars...), "CGO_ENABLED=1")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "build failed for %s: %s", srcPath, string(out))
}

func compileContracts(t *testing.T) {
	cmd := exec.Command("forge", "build")
	cmd.Dir = "."
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "forge build failed: %s", string(out))
}

type artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode struct {
		Object string `json:"object"`
	} `json:"bytecode"`
}

func deployContract(t *testing.T, ctx context.Context, client *ethclient.Client, contractName string) (common.Address, abi.ABI) {
	// Forge writes artifacts under out/; the path depends on the CWD
	// the test runs from.
	base := "out"
	if _, err := os.Stat(base); os.IsNotExist(err) {
		base = "../../out"
	}

	path := fmt.Sprintf("%s/MockContracts.sol/%s.json", base, contractName)
	data, err := os.ReadFile(path)
	if err != nil {
		wd, _ := os.Getwd()
		t.Logf("cwd: %s, tried: %s", wd, path)
		require.NoError(t, err, "read artifact failed")
	}

	var art artifact
	require.NoError(t, json.Unmarshal(data, &art))

	parsedABI, err := abi.JSON(strings.NewReader(string(art.ABI)))
	require.NoError(t, err)

	bytecode := common.FromHex(art.Bytecode.Object)

	privateKey, _ := crypto.HexToECDSA(strings.TrimPrefix(deployerKey, "0x"))
	chainID, _ := client.ChainID(ctx)
	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	nonce, _ := client.PendingNonceAt(ctx, from)
	gasPrice, _ := client.SuggestGasPrice(ctx)

	tx := types.NewContractCreation(nonce, big.NewInt(0), 3000000, gasPrice, bytecode)
	signedTx, _ := types.SignTx(tx, types.NewEIP155Signer(chainID), privateKey)

	require.NoError(t, client.SendTransaction(ctx, signedTx))
	waitForReceipt(t, ctx, client, signedTx.Hash())

	return crypto.CreateAddress(from, nonce), parsedABI
}

func sendTx(t *testing.T, ctx context.Context, client *ethclient.Client, to common.Address, data []byte) {
	privateKey, _ := crypto.HexToECDSA(strings.TrimPrefix(deployerKey, "0x"))
	chainID, _ := client.ChainID(ctx)
	from := crypto.PubkeyToAddress(privateKey.PublicKey)
	nonce, _ := client.PendingNonceAt(ctx, from)
	gasPrice, _ := client.SuggestGasPrice(ctx)

	tx := types.NewTransaction(nonce, to, big.NewInt(0), 200000, gasPrice, data)
	signedTx, _ := types.SignTx(tx, types.NewEIP155Signer(chainID), privateKey)

	require.NoError(t, client.SendTransaction(ctx, signedTx))
	waitForReceipt(t, ctx, client, signedTx.Hash())
}

func waitForReceipt(t *testing.T, ctx context.Context, client *ethclient.Client, hash common.Hash) {
	for i := 0; i < 30; i++ {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil && receipt.Status == types.ReceiptStatusSuccessful {
			return
		}
		if err != nil && err.Error() != "not found" {
			t.Logf("receipt lookup for %s: %v", hash.Hex(), err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("transaction receipt timeout for %s", hash.Hex())
}

// extractJSON pulls the outermost JSON object out of mixed process output
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
