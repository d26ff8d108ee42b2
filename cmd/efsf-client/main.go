package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/efsf/efsf-go/api/clients"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "efsf-server address",
}

var flagTTL *cli.StringFlag = &cli.StringFlag{
	Name:  "ttl",
	Usage: "record TTL, e.g. 5m, 2h, 7 days; classification default if omitted",
}

var flagClassification *cli.StringFlag = &cli.StringFlag{
	Name:  "classification",
	Value: "TRANSIENT",
	Usage: "data classification: TRANSIENT, SHORT_LIVED, RETENTION_BOUND, PERSISTENT",
}

func main() {
	app := &cli.App{
		Name:  "efsf-client",
		Usage: "Store, read, and destroy ephemeral records",
		Flags: []cli.Flag{flagServerAddr},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "store stdin as a new record",
				ArgsUsage: " ",
				Flags:     []cli.Flag{flagTTL, flagClassification},
				Action: func(cCtx *cli.Context) error {
					data, err := io.ReadAll(os.Stdin)
					if err != nil {
						return err
					}

					client := clients.NewRecordClient(cCtx.String(flagServerAddr.Name))
					rec, err := client.Put(cCtx.Context, data, cCtx.String(flagTTL.Name), cCtx.String(flagClassification.Name), nil)
					if err != nil {
						return err
					}
					return printJSON(rec)
				},
			},
			{
				Name:      "get",
				Usage:     "read a record's plaintext to stdout",
				ArgsUsage: "<record-id>",
				Action: func(cCtx *cli.Context) error {
					client := clients.NewRecordClient(cCtx.String(flagServerAddr.Name))
					data, err := client.Get(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				},
			},
			{
				Name:      "destroy",
				Usage:     "destroy a record and print its certificate",
				ArgsUsage: "<record-id>",
				Action: func(cCtx *cli.Context) error {
					client := clients.NewRecordClient(cCtx.String(flagServerAddr.Name))
					cert, err := client.Destroy(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(cert)
				},
			},
			{
				Name:      "verify",
				Usage:     "fetch a record's certificate and verify its signature",
				ArgsUsage: "<record-id>",
				Action: func(cCtx *cli.Context) error {
					client := clients.NewRecordClient(cCtx.String(flagServerAddr.Name))
					cert, err := client.Certificate(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					verified, err := client.VerifyCertificate(cCtx.Context, cert)
					if err != nil {
						return err
					}
					fmt.Printf("certificate %s method=%s verified=%v\n", cert.CertificateID, cert.Method, verified)
					if !verified {
						return fmt.Errorf("signature verification failed")
					}
					return nil
				},
			},
			{
				Name:  "authority",
				Usage: "print the server's attestation authority identity",
				Action: func(cCtx *cli.Context) error {
					client := clients.NewRecordClient(cCtx.String(flagServerAddr.Name))
					info, err := client.Authority(cCtx.Context)
					if err != nil {
						return err
					}
					pub, err := base64.StdEncoding.DecodeString(info.PublicKey)
					if err != nil {
						return err
					}
					fmt.Printf("authority: %s\nalgorithm: %s\npublic key: %x\n", info.AuthorityID, info.Algorithm, pub)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
