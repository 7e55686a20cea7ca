// e2e resource server: protects one route behind x402 payments on the
// networks configured through the environment.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	x402http "x402-go/http"
	ginmw "x402-go/http/gin"
	evmserver "x402-go/mechanisms/evm/exact/server"
	svmserver "x402-go/mechanisms/svm/exact/server"
)

const defaultPort = "4021"

func main() {
	godotenv.Load()

	facilitatorURL := os.Getenv("FACILITATOR_URL")
	if facilitatorURL == "" {
		facilitatorURL = "http://localhost:4022"
	}

	evmPayTo := os.Getenv("EVM_PAYEE_ADDRESS")
	svmPayTo := os.Getenv("SVM_PAYEE_ADDRESS")
	if evmPayTo == "" && svmPayTo == "" {
		fmt.Println("EVM_PAYEE_ADDRESS or SVM_PAYEE_ADDRESS is required")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	var accepts x402http.PaymentOptions
	var schemes []ginmw.SchemeConfig

	if evmPayTo != "" {
		accepts = append(accepts, x402http.PaymentOption{
			Scheme:  "exact",
			Network: "eip155:84532",
			PayTo:   evmPayTo,
			Price:   "$0.001",
		})
		schemes = append(schemes, ginmw.SchemeConfig{
			Network: "eip155:*",
			Server:  evmserver.NewExactEvmScheme(),
		})
	}
	if svmPayTo != "" {
		accepts = append(accepts, x402http.PaymentOption{
			Scheme:  "exact",
			Network: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
			PayTo:   svmPayTo,
			Price:   "$0.001",
		})
		schemes = append(schemes, ginmw.SchemeConfig{
			Network: "solana:*",
			Server:  svmserver.NewExactSvmScheme(),
		})
	}

	routes := x402http.RoutesConfig{
		"GET /protected": {
			Accepts:     accepts,
			Description: "Protected e2e resource",
			MimeType:    "application/json",
		},
	}

	facilitatorClient := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	r := gin.Default()
	r.Use(ginmw.X402Payment(ginmw.Config{
		Routes:                 routes,
		Facilitator:            facilitatorClient,
		Schemes:                schemes,
		SyncFacilitatorOnStart: true,
		Timeout:                90 * time.Second,
	}))

	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "paid content",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	fmt.Printf("resource server listening on :%s (facilitator %s)\n", port, facilitatorURL)
	if err := r.Run(":" + port); err != nil {
		fmt.Printf("server error: %v\n", err)
		os.Exit(1)
	}
}
