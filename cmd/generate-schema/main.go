package main

import (
	"flag"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"github.com/jellyfin/hwbench/pkg/report/model"
)

var reportSchema string

func init() {
	flag.StringVar(&reportSchema, "report", "/var/spool/datatypes/hwbench.json", "filename to write the report schema")
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	sch, err := bigquery.InferSchema(model.Report{})
	rtx.Must(err, "failed to generate report schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal report schema")
	err = os.WriteFile(reportSchema, b, 0o644)
	rtx.Must(err, "failed to write report schema")
}
