package dynamiccron_test

import "github.com/assaka/daino-jobs/script"

func scriptQuery(table, op string) script.Query {
	return script.Query{Table: table, Operation: op}
}
