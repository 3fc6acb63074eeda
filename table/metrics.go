package table

import "github.com/uber-go/tally"

type tableMetrics struct {
	put        tally.Counter
	putFail    tally.Counter
	getHit     tally.Counter
	getMiss    tally.Counter
	getFail    tally.Counter
	del        tally.Counter
	delFail    tally.Counter
	getAll     tally.Counter
	getAllFail tally.Counter
}

func newTableMetrics(scope tally.Scope, table string) tableMetrics {
	s := scope.SubScope("table").Tagged(map[string]string{"table": table})
	return tableMetrics{
		put:        s.Counter("put"),
		putFail:    s.Counter("put_fail"),
		getHit:     s.Counter("get_hit"),
		getMiss:    s.Counter("get_miss"),
		getFail:    s.Counter("get_fail"),
		del:        s.Counter("delete"),
		delFail:    s.Counter("delete_fail"),
		getAll:     s.Counter("get_all"),
		getAllFail: s.Counter("get_all_fail"),
	}
}
