// e2e payment client: pays a protected resource with whichever scheme
// the server offers, across both protocol versions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	x402 "x402-go"
	x402http "x402-go/http"
	evmclient "x402-go/mechanisms/evm/exact/client"
	evmv1client "x402-go/mechanisms/evm/exact/v1/client"
	svmclient "x402-go/mechanisms/svm/exact/client"
	svmv1client "x402-go/mechanisms/svm/exact/v1/client"
	evmsigners "x402-go/signers/evm"
	svmsigners "x402-go/signers/svm"
)

func main() {
	evmPrivateKey := os.Getenv("EVM_PRIVATE_KEY")
	svmPrivateKey := os.Getenv("SVM_PRIVATE_KEY")
	if evmPrivateKey == "" && svmPrivateKey == "" {
		fmt.Println("EVM_PRIVATE_KEY or SVM_PRIVATE_KEY is required")
		os.Exit(1)
	}

	resourceURL := os.Getenv("RESOURCE_SERVER_URL")
	if resourceURL == "" {
		resourceURL = "http://localhost:4021/protected"
	}

	client := x402.Newx402Client()

	if evmPrivateKey != "" {
		signer, err := evmsigners.NewClientSignerFromPrivateKey(evmPrivateKey)
		if err != nil {
			fmt.Printf("failed to create EVM signer: %v\n", err)
			os.Exit(1)
		}
		client.Register("eip155:*", evmclient.NewExactEvmScheme(signer))
		client.RegisterV1("base-sepolia", evmv1client.NewExactEvmSchemeV1(signer))
	}

	if svmPrivateKey != "" {
		signer, err := svmsigners.NewClientSignerFromPrivateKey(svmPrivateKey)
		if err != nil {
			fmt.Printf("failed to create SVM signer: %v\n", err)
			os.Exit(1)
		}
		client.Register("solana:*", svmclient.NewExactSvmScheme(signer))
		client.RegisterV1("solana-devnet", svmv1client.NewExactSvmSchemeV1(signer))
	}

	httpClient := x402http.Newx402HTTPClient(client)

	ctx := context.Background()
	fmt.Printf("requesting %s\n", resourceURL)

	resp, err := httpClient.GetWithPayment(ctx, resourceURL)
	if err != nil {
		fmt.Printf("request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("failed to read response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("status: %d\n", resp.StatusCode)
	fmt.Printf("body: %s\n", string(body))

	settle, err := x402http.GetSettleResponse(resp.Header)
	if err != nil {
		fmt.Printf("failed to decode settlement header: %v\n", err)
		os.Exit(1)
	}
	if settle != nil {
		receipt, _ := json.MarshalIndent(settle, "", "  ")
		fmt.Printf("settlement: %s\n", string(receipt))
	}

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
