// e2e facilitator: verify/settle REST service for EVM and SVM exact
// payments, with a bazaar catalog of the resources it has seen paid.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	x402 "x402-go"
	exttypes "x402-go/extensions/types"
	evmfac "x402-go/mechanisms/evm/exact/facilitator"
	evmv1fac "x402-go/mechanisms/evm/exact/v1/facilitator"
	svmfac "x402-go/mechanisms/svm/exact/facilitator"
	svmv1fac "x402-go/mechanisms/svm/exact/v1/facilitator"
	evmsigners "x402-go/signers/evm"
	svmsigners "x402-go/signers/svm"
)

const defaultPort = "4022"

func main() {
	evmPrivateKey := os.Getenv("EVM_PRIVATE_KEY")
	svmPrivateKey := os.Getenv("SVM_PRIVATE_KEY")
	if evmPrivateKey == "" && svmPrivateKey == "" {
		fmt.Println("EVM_PRIVATE_KEY or SVM_PRIVATE_KEY is required")
		os.Exit(1)
	}

	evmRPC := os.Getenv("EVM_RPC_URL")
	if evmRPC == "" {
		evmRPC = "https://sepolia.base.org"
	}
	svmRPC := os.Getenv("SVM_RPC_URL")
	if svmRPC == "" {
		svmRPC = "https://api.devnet.solana.com"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	facilitator := x402.Newx402Facilitator()

	if evmPrivateKey != "" {
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(evmPrivateKey, "0x")); err != nil {
			fmt.Printf("invalid EVM private key: %v\n", err)
			os.Exit(1)
		}
		signer, err := evmsigners.NewFacilitatorSigner(evmPrivateKey, evmRPC)
		if err != nil {
			fmt.Printf("failed to create EVM signer: %v\n", err)
			os.Exit(1)
		}
		config := &evmfac.ExactEvmSchemeConfig{DeployERC4337WithEIP6492: true}
		facilitator.Register([]x402.Network{"eip155:84532"}, evmfac.NewExactEvmScheme(signer, config))
		facilitator.RegisterV1([]x402.Network{"base-sepolia"},
			evmv1fac.NewExactEvmSchemeV1(signer, &evmv1fac.ExactEvmSchemeV1Config{DeployERC4337WithEIP6492: true}))
	}

	if svmPrivateKey != "" {
		if _, err := solana.PrivateKeyFromBase58(svmPrivateKey); err != nil {
			fmt.Printf("invalid SVM private key: %v\n", err)
			os.Exit(1)
		}
		signer, err := svmsigners.NewFacilitatorSigner(svmPrivateKey, svmRPC)
		if err != nil {
			fmt.Printf("failed to create SVM signer: %v\n", err)
			os.Exit(1)
		}
		facilitator.Register([]x402.Network{"solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"}, svmfac.NewExactSvmScheme(signer))
		facilitator.RegisterV1([]x402.Network{"solana-devnet"}, svmv1fac.NewExactSvmSchemeV1(signer))
	}

	catalog := NewBazaarCatalog()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/supported", func(c *gin.Context) {
		c.JSON(http.StatusOK, facilitator.GetSupported())
	})

	r.POST("/verify", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		payload, requirements, ok := bindFacilitatorRequest(c)
		if !ok {
			return
		}

		result, err := facilitator.Verify(ctx, payload, requirements)
		if err != nil {
			c.JSON(http.StatusBadRequest, verifyErrorResponse(err))
			return
		}

		catalogResource(catalog, payload, requirements)
		c.JSON(http.StatusOK, result)
	})

	r.POST("/settle", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 90*time.Second)
		defer cancel()

		payload, requirements, ok := bindFacilitatorRequest(c)
		if !ok {
			return
		}

		result, err := facilitator.Settle(ctx, payload, requirements)
		if err != nil {
			c.JSON(http.StatusBadRequest, settleErrorResponse(err))
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// Bazaar discovery listing
	r.GET("/discovery/resources", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 {
			limit = 20
		}
		if offset < 0 {
			offset = 0
		}
		items, total := catalog.GetResources(limit, offset)
		c.JSON(http.StatusOK, gin.H{
			"x402Version": x402.ProtocolVersion,
			"items":       items,
			"pagination": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	})

	fmt.Printf("facilitator listening on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		fmt.Printf("server error: %v\n", err)
		os.Exit(1)
	}
}

func bindFacilitatorRequest(c *gin.Context) (json.RawMessage, json.RawMessage, bool) {
	var reqBody struct {
		PaymentPayload      json.RawMessage `json:"paymentPayload"`
		PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	}
	if err := c.BindJSON(&reqBody); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, nil, false
	}
	if len(reqBody.PaymentPayload) == 0 || len(reqBody.PaymentRequirements) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paymentPayload and paymentRequirements are required"})
		return nil, nil, false
	}
	return reqBody.PaymentPayload, reqBody.PaymentRequirements, true
}

// verifyErrorResponse renders a failed verification in the response
// shape clients expect, keeping the structured reason code.
func verifyErrorResponse(err error) x402.VerifyResponse {
	if verifyErr, ok := err.(*x402.VerifyError); ok {
		return x402.VerifyResponse{
			IsValid:        false,
			InvalidReason:  verifyErr.Reason,
			InvalidMessage: verifyErr.Error(),
			Payer:          verifyErr.Payer,
		}
	}
	return x402.VerifyResponse{
		IsValid:        false,
		InvalidReason:  "verification_failed",
		InvalidMessage: err.Error(),
	}
}

func settleErrorResponse(err error) x402.SettleResponse {
	if settleErr, ok := err.(*x402.SettleError); ok {
		return x402.SettleResponse{
			Success:      false,
			ErrorReason:  settleErr.Reason,
			ErrorMessage: settleErr.Error(),
			Transaction:  settleErr.Transaction,
			Network:      settleErr.Network,
			Payer:        settleErr.Payer,
		}
	}
	return x402.SettleResponse{
		Success:      false,
		ErrorReason:  "settlement_failed",
		ErrorMessage: err.Error(),
	}
}

// catalogResource records the paid resource from a verified v2 payload.
// A payload may carry a bazaar discovery declaration in its extensions;
// declarations whose example input contradicts their own schema are
// dropped rather than published.
func catalogResource(catalog *BazaarCatalog, payloadBytes, requirementsBytes json.RawMessage) {
	var payload x402.PaymentPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return
	}
	if payload.Resource == nil || payload.Resource.URL == "" {
		return
	}
	var requirements x402.PaymentRequirements
	if err := json.Unmarshal(requirementsBytes, &requirements); err != nil {
		return
	}

	method := "GET"
	var discoveryInfo *exttypes.DiscoveryInfo
	if ext := parseDiscoveryExtension(payload.Extensions); ext != nil {
		if err := exttypes.ValidateDiscoveryExtension(*ext); err != nil {
			log.Printf("dropping discovery declaration for %s: %v", payload.Resource.URL, err)
			return
		}
		discoveryInfo = &ext.Info
		method = discoveryMethod(ext.Info)
	}
	catalog.CatalogResource(payload.Resource.URL, method, payload.X402Version, discoveryInfo, requirements)
}

// parseDiscoveryExtension decodes the bazaar extension when the payload
// carries one.
func parseDiscoveryExtension(extensions map[string]interface{}) *exttypes.DiscoveryExtension {
	raw, ok := extensions[exttypes.BAZAAR]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var ext exttypes.DiscoveryExtension
	if err := json.Unmarshal(encoded, &ext); err != nil {
		return nil
	}
	return &ext
}

// discoveryMethod reads the HTTP method out of whichever input variant
// the declaration holds.
func discoveryMethod(info exttypes.DiscoveryInfo) string {
	switch input := info.Input.(type) {
	case exttypes.QueryInput:
		return string(input.Method)
	case exttypes.BodyInput:
		return string(input.Method)
	}
	return "GET"
}
