package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/abugrin/scim-proxy/proxy"
)

func main() {
	var driverp = flag.String("driver", "sqlite", "cache database driver: sqlite, mysql, or mssql")
	var dsnp = flag.String("dsn", "", "cache database data source string")
	var cmdp = flag.String("cmd", "", "stats, clear, or clear-prefix")
	var prefixp = flag.String("prefix", "", "cache key prefix, required for clear-prefix (e.g. \"GET /Users\")")

	flag.Parse()

	if *dsnp == "" || *cmdp == "" {
		fmt.Fprintf(os.Stderr, "Usage: cachetool -driver <driver> -dsn <source> -cmd <stats|clear|clear-prefix> [-prefix <prefix>]\n")
		return
	}

	db, err := sqlx.Open(*driverp, *dsnp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache database: %s\n", err.Error())
		os.Exit(1)
	}
	store, err := proxy.NewSQLStore(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cache store: %s\n", err.Error())
		os.Exit(1)
	}

	switch *cmdp {
	case "stats":
		n, err := store.Len()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to count cache entries: %s\n", err.Error())
			os.Exit(1)
		}
		fmt.Printf("%d cache entries\n", n)
	case "clear":
		if err := store.DeletePrefix(""); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear cache: %s\n", err.Error())
			os.Exit(1)
		}
		fmt.Println("Cache cleared")
	case "clear-prefix":
		if *prefixp == "" {
			fmt.Fprintf(os.Stderr, "clear-prefix requires -prefix\n")
			os.Exit(1)
		}
		if err := store.DeletePrefix(*prefixp); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clear cache entries under %q: %s\n", *prefixp, err.Error())
			os.Exit(1)
		}
		fmt.Printf("Cleared cache entries under %q\n", *prefixp)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", *cmdp)
		os.Exit(1)
	}
}
