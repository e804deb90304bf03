// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package annot reads and writes annotation snapshots (probe to gene
// maps, term gene sets and hierarchy, SNP positions) stored in
// SQLite, and queries remote annotation services.
package annot

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/arvados/bioassoc/enrich"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE probe_gene (probe TEXT NOT NULL, gene TEXT NOT NULL, symbol TEXT NOT NULL DEFAULT '', PRIMARY KEY (probe, gene));
CREATE TABLE term (id TEXT PRIMARY KEY, ontology TEXT NOT NULL, name TEXT NOT NULL);
CREATE TABLE term_gene (term TEXT NOT NULL, gene TEXT NOT NULL, PRIMARY KEY (term, gene));
CREATE TABLE term_parent (term TEXT NOT NULL, parent TEXT NOT NULL, PRIMARY KEY (term, parent));
CREATE TABLE snp (id TEXT PRIMARY KEY, chrom TEXT NOT NULL, pos INTEGER NOT NULL, gene TEXT NOT NULL DEFAULT '');
`

// Store is a read-only annotation snapshot.
type Store struct {
	db      *sql.DB
	version string
}

// Open opens an existing snapshot read-only.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'version'`).Scan(&s.version)
	if errors.Is(err, sql.ErrNoRows) {
		s.version = "unknown"
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Version returns the snapshot's declared version string.
func (s *Store) Version() string { return s.version }

// MapProbes translates probe ids to gene ids. Unmapped probes are
// dropped, and genes reached from several probes appear once, in
// order of first appearance.
func (s *Store) MapProbes(ctx context.Context, probes []string) (genes []string, unmapped int, err error) {
	stmt, err := s.db.PrepareContext(ctx, `SELECT gene FROM probe_gene WHERE probe = ? ORDER BY gene`)
	if err != nil {
		return nil, 0, err
	}
	defer stmt.Close()
	seen := map[string]bool{}
	for _, probe := range probes {
		rows, err := stmt.QueryContext(ctx, probe)
		if err != nil {
			return nil, 0, err
		}
		found := false
		for rows.Next() {
			var gene string
			if err := rows.Scan(&gene); err != nil {
				rows.Close()
				return nil, 0, err
			}
			found = true
			if !seen[gene] {
				seen[gene] = true
				genes = append(genes, gene)
			}
		}
		err = rows.Close()
		if err == nil {
			err = rows.Err()
		}
		if err != nil {
			return nil, 0, err
		}
		if !found {
			unmapped++
		}
	}
	return genes, unmapped, nil
}

// Symbols returns the gene symbol recorded for each gene that has one.
func (s *Store) Symbols(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT gene, symbol FROM probe_gene WHERE symbol != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var gene, symbol string
		if err := rows.Scan(&gene, &symbol); err != nil {
			return nil, err
		}
		out[gene] = symbol
	}
	return out, rows.Err()
}

// Terms returns every term in the given ontology ("" for all) with
// its genes and parents, sorted by id.
func (s *Store) Terms(ctx context.Context, ontology string) ([]enrich.Term, error) {
	where, args := "", []interface{}{}
	if ontology != "" {
		where, args = " WHERE t.ontology = ?", []interface{}{ontology}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT t.id, t.name FROM term t`+where+` ORDER BY t.id`, args...)
	if err != nil {
		return nil, err
	}
	var terms []enrich.Term
	index := map[string]int{}
	for rows.Next() {
		var t enrich.Term
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(terms)
		terms = append(terms, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, q := range []struct {
		sql string
		add func(t *enrich.Term, v string)
	}{
		{`SELECT tg.term, tg.gene FROM term_gene tg JOIN term t ON t.id = tg.term` + where + ` ORDER BY tg.term, tg.gene`,
			func(t *enrich.Term, v string) { t.Genes = append(t.Genes, v) }},
		{`SELECT tp.term, tp.parent FROM term_parent tp JOIN term t ON t.id = tp.term` + where + ` ORDER BY tp.term, tp.parent`,
			func(t *enrich.Term, v string) { t.Parents = append(t.Parents, v) }},
	} {
		rows, err := s.db.QueryContext(ctx, q.sql, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id, v string
			if err := rows.Scan(&id, &v); err != nil {
				rows.Close()
				return nil, err
			}
			if i, ok := index[id]; ok {
				q.add(&terms[i], v)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return terms, nil
}

// SNP is the recorded position and gene of a SNP.
type SNP struct {
	ID    string
	Chrom string
	Pos   int64
	Gene  string
}

// SNPs looks up the given SNP ids. Unknown ids are omitted.
func (s *Store) SNPs(ctx context.Context, ids []string) ([]SNP, error) {
	stmt, err := s.db.PrepareContext(ctx, `SELECT id, chrom, pos, gene FROM snp WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	var out []SNP
	for _, id := range ids {
		var snp SNP
		err := stmt.QueryRowContext(ctx, id).Scan(&snp.ID, &snp.Chrom, &snp.Pos, &snp.Gene)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		} else if err != nil {
			return nil, err
		}
		out = append(out, snp)
	}
	return out, nil
}

// BuildInput lists the tab-separated source files for a snapshot.
// Each file starts with a header row. Nil readers are skipped.
//
//	Probes:      probe, gene[, symbol]
//	Terms:       id, ontology, name
//	TermGenes:   term, gene
//	TermParents: term, parent
//	SNPs:        id, chrom, pos[, gene]
type BuildInput struct {
	Version     string
	Probes      io.Reader
	Terms       io.Reader
	TermGenes   io.Reader
	TermParents io.Reader
	SNPs        io.Reader
}

// Build writes a new snapshot to path, which must not exist.
func Build(ctx context.Context, path string, in BuildInput) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	version := in.Version
	if version == "" {
		version = "unversioned"
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('version', ?)`, version); err != nil {
		return err
	}
	for _, src := range []struct {
		name    string
		r       io.Reader
		insert  string
		minCols int
		maxCols int
	}{
		{"probes", in.Probes, `INSERT OR IGNORE INTO probe_gene (probe, gene, symbol) VALUES (?, ?, ?)`, 2, 3},
		{"terms", in.Terms, `INSERT OR REPLACE INTO term (id, ontology, name) VALUES (?, ?, ?)`, 3, 3},
		{"term genes", in.TermGenes, `INSERT OR IGNORE INTO term_gene (term, gene) VALUES (?, ?)`, 2, 2},
		{"term parents", in.TermParents, `INSERT OR IGNORE INTO term_parent (term, parent) VALUES (?, ?)`, 2, 2},
		{"snps", in.SNPs, `INSERT OR REPLACE INTO snp (id, chrom, pos, gene) VALUES (?, ?, ?, ?)`, 3, 4},
	} {
		if src.r == nil {
			continue
		}
		n, err := load(ctx, tx, src.r, src.insert, src.minCols, src.maxCols, src.name == "snps")
		if err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
		log.WithFields(log.Fields{"table": src.name, "rows": n}).Info("loaded annotation table")
	}
	return tx.Commit()
}

func load(ctx context.Context, tx *sql.Tx, r io.Reader, insert string, minCols, maxCols int, snp bool) (int, error) {
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<24)
	header := true
	n := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if header {
			header = false
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < minCols {
			return n, fmt.Errorf("line %d: %d fields, need at least %d", lineNum, len(fields), minCols)
		}
		if len(fields) > maxCols {
			fields = fields[:maxCols]
		}
		args := make([]interface{}, maxCols)
		for i := range args {
			args[i] = ""
		}
		for i, f := range fields {
			args[i] = strings.TrimSpace(f)
		}
		if snp {
			pos, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return n, fmt.Errorf("line %d: bad position %q", lineNum, fields[2])
			}
			args[2] = pos
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNum, err)
		}
		n++
	}
	return n, scanner.Err()
}

// Ontologies returns the distinct ontology names in the snapshot.
func (s *Store) Ontologies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT ontology FROM term`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Strings(out)
	return out, rows.Err()
}
