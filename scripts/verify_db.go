package main

import (
	"fmt"
	"log"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/wwwzy/IntervAgent/internal/storage"
	"gorm.io/gorm"
)

func main() {
	path := "intervagent.db"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// Connect to the database
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Println("--- Verifying IntervAgent Database ---")

	// Verify RegistrationDocuments
	var docsCount int64
	// We need to verify if the table exists first to avoid panic if migration didn't run
	if !db.Migrator().HasTable(&storage.RegistrationDocument{}) {
		fmt.Println("Table for registration documents does not exist yet.")
	} else {
		db.Model(&storage.RegistrationDocument{}).Count(&docsCount)
		fmt.Printf("Total Registration Documents: %d\n", docsCount)

		if docsCount > 0 {
			var docs []storage.RegistrationDocument
			db.Order("indexed_at desc").Limit(5).Find(&docs)
			fmt.Println("Latest 5 Documents (Local Time):")
			for _, d := range docs {
				fmt.Printf("  [%s] %-6s %s (%s)\n",
					d.IndexedAt.Local().Format("2006-01-02 15:04:05"), d.RiskLevel, d.FileName, d.Sender)
			}
		}
	}

	fmt.Println("\n------------------------------------")

	// Verify AuditRecords
	var auditCount int64
	if !db.Migrator().HasTable(&storage.AuditRecord{}) {
		fmt.Println("Table for audit records does not exist yet.")
	} else {
		db.Model(&storage.AuditRecord{}).Count(&auditCount)
		fmt.Printf("Total Audit Records: %d\n", auditCount)

		if auditCount > 0 {
			var recs []storage.AuditRecord
			db.Order("created_at desc").Limit(5).Find(&recs)
			fmt.Println("Latest 5 Tool Calls (Local Time):")
			for _, r := range recs {
				msg := r.ErrorMessage
				if len(msg) > 50 {
					msg = msg[:47] + "..."
				}
				fmt.Printf("  [%s] %s %s %s %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.TraceID, r.Action, r.Status, msg)
			}
		}
	}
}
