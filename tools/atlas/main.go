package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"livebid/models"
)

// 供atlas讀取gorm模型產生資料庫schema
func main() {
	stmts, err := gormschema.New("postgres").Load(
		&models.WalletAccount{},
		&models.PaymentObligation{},
		&models.BidRecord{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
