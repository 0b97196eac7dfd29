// Command titlesync pushes a catalog's copy counts to the circulation service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"libraryhub/internal/servicetoken"
	"libraryhub/internal/util"
)

func main() {
	var (
		catalogPath = flag.String("catalog", "catalog.yaml", "YAML file with a titles list")
		baseURL     = flag.String("url", "http://localhost:8085", "circulation base URL")
		keyPath     = flag.String("key", os.Getenv("INTERNAL_JWT_PRIVATE_KEY_PATH"), "PEM RSA private key used to sign service tokens")
		keyID       = flag.String("kid", servicetoken.DefaultKeyID, "service token key id")
		issuer      = flag.String("issuer", "catalog", "service token issuer")
	)
	flag.Parse()
	logger := util.InitLogger("titlesync", os.Getenv("LOG_LEVEL"))

	titles, err := loadCatalog(*catalogPath)
	if err != nil {
		exitErr(err)
	}
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKeyPath: *keyPath, KeyID: *keyID, Issuer: *issuer})
	if err != nil {
		exitErr(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	client := &http.Client{Timeout: 10 * time.Second}
	res, err := syncTitles(ctx, client, *baseURL, servicetoken.CirculationAudience, signer, titles)
	logger.Info("title sync finished", "created", res.Created, "updated", res.Updated, "failed", len(res.Failed))
	if err != nil {
		exitErr(err)
	}
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
