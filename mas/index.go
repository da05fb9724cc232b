package mas

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/nci/composite/utils"
)

// Index stores scene records and answers intersects queries with the
// JSON payload sent to clients.
type Index interface {
	Intersects(ctx context.Context, q *Query) ([]byte, error)
	Ingest(ctx context.Context, recs []*utils.SceneRecord) (int, error)
}

const schema = `
create table if not exists scenes (
	id text primary key,
	collection text not null,
	sensing_time timestamptz not null,
	cloud_cover double precision not null default 0,
	xmin double precision not null,
	ymin double precision not null,
	xmax double precision not null,
	ymax double precision not null,
	record jsonb not null
);
create index if not exists scenes_collection_time on scenes (collection, sensing_time);
`

// The nullif() noise coerces empty strings of missing parameters into
// null arguments which disable the predicate.
const intersectsSQL = `
with p as (
	select
		nullif($2,'')::timestamptz as t0,
		nullif($3,'')::timestamptz as t1,
		nullif($4,'')::integer as d0,
		nullif($5,'')::integer as d1,
		nullif($6,'')::double precision as cmax,
		string_to_array(nullif($7,''), ',')::double precision[] as bb
)
select json_build_object('scenes', coalesce(json_agg(s.record order by s.sensing_time, s.id), '[]'::json))::text
from scenes s, p
where s.collection = $1
	and (p.t0 is null or s.sensing_time >= p.t0)
	and (p.t1 is null or s.sensing_time < p.t1)
	and (p.d0 is null or extract(doy from s.sensing_time at time zone 'UTC') between p.d0 and p.d1)
	and (p.cmax is null or s.cloud_cover < p.cmax)
	and (p.bb is null or (s.xmin <= p.bb[3] and p.bb[1] <= s.xmax and s.ymin <= p.bb[4] and p.bb[2] <= s.ymax))
`

const ingestSQL = `
insert into scenes (id, collection, sensing_time, cloud_cover, xmin, ymin, xmax, ymax, record)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
on conflict (id) do update set
	collection = excluded.collection,
	sensing_time = excluded.sensing_time,
	cloud_cover = excluded.cloud_cover,
	xmin = excluded.xmin, ymin = excluded.ymin, xmax = excluded.xmax, ymax = excluded.ymax,
	record = excluded.record
`

// PGIndex is the Postgres backed Index.
type PGIndex struct {
	db *sql.DB
}

// OpenPGIndex connects to Postgres and creates the scenes table if
// needed.
func OpenPGIndex(ctx context.Context, dsn string, pool, limit int) (*PGIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(pool)
	db.SetMaxOpenConns(limit)

	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %v", err)
	}
	return &PGIndex{db: db}, nil
}

func (p *PGIndex) Close() error {
	return p.db.Close()
}

func formatOptional(v float64, set bool) string {
	if !set {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (p *PGIndex) Intersects(ctx context.Context, q *Query) ([]byte, error) {
	var t0, t1, d0, d1, bbox string
	if !q.Time.IsZero() {
		t0 = q.Time.Format(utils.ISOFormat)
	}
	if !q.Until.IsZero() {
		t1 = q.Until.Format(utils.ISOFormat)
	}
	if q.DOYStart > 0 {
		d0, d1 = strconv.Itoa(q.DOYStart), strconv.Itoa(q.DOYEnd)
	}
	if len(q.BBox) == 4 {
		bbox = fmt.Sprintf("%v,%v,%v,%v", q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3])
	}

	var payload string
	err := p.db.QueryRowContext(ctx, intersectsSQL,
		q.Collection, t0, t1, d0, d1,
		formatOptional(q.MaxCloud, q.MaxCloud > 0),
		bbox,
	).Scan(&payload)
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (p *PGIndex) Ingest(ctx context.Context, recs []*utils.SceneRecord) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, ingestSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, rec := range recs {
		t, err := rec.Time()
		if err != nil {
			return 0, err
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return 0, err
		}
		_, err = stmt.ExecContext(ctx, rec.ID, rec.Collection, t, rec.CloudCover,
			rec.BBox[0], rec.BBox[1], rec.BBox[2], rec.BBox[3], string(raw))
		if err != nil {
			return 0, fmt.Errorf("ingesting %s: %v", rec.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}
