package sqldb

import (
	"database/sql"
	"errors"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

type DBer interface {
	CreateTable(t TableData) error
	Insert(t TableData) error
	DeleteIn(table, column string, values []interface{}) error
}

type Sqldb struct {
	options
	db *sql.DB
}

type Field struct {
	Title string
	Type  string
}

type TableData struct {
	TableName   string
	ColumnNames []Field       // columns, in value order
	Args        []interface{} // row values, flattened
	DataCount   int           // rows in Args
	AutoKey     bool
	PrimaryKey  string
	// Upsert turns Insert into INSERT ... ON DUPLICATE KEY UPDATE of every
	// non-key column.
	Upsert bool
}

func New(opts ...Option) (*Sqldb, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	d := &Sqldb{}
	d.options = options

	if err := d.OpenDB(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Sqldb) OpenDB() error {
	db, err := sql.Open("mysql", d.sqlURL)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(d.maxOpenConns)
	db.SetMaxIdleConns(d.maxOpenConns)

	if err = db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.db = db

	return nil
}

func (d *Sqldb) Close() error {
	return d.db.Close()
}

func (d *Sqldb) CreateTable(t TableData) error {
	sql, err := createTableSQL(t)
	if err != nil {
		return err
	}

	d.logger.Debug("create table", zap.String("sql", sql))

	_, err = d.db.Exec(sql)

	return err
}

func (d *Sqldb) DropTable(t TableData) error {
	if t.TableName == "" {
		return errors.New("table name can not be empty")
	}

	sql := `DROP TABLE ` + t.TableName

	d.logger.Debug("drop table", zap.String("sql", sql))

	_, err := d.db.Exec(sql)

	return err
}

func (d *Sqldb) Insert(t TableData) error {
	sql, err := insertSQL(t)
	if err != nil {
		return err
	}
	d.logger.Debug("insert table", zap.String("sql", sql), zap.Int("rows", t.DataCount))
	_, err = d.db.Exec(sql, t.Args...)

	return err
}

func (d *Sqldb) DeleteIn(table, column string, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}
	sql := deleteInSQL(table, column, len(values))
	d.logger.Debug("delete rows", zap.String("sql", sql), zap.Int("rows", len(values)))
	_, err := d.db.Exec(sql, values...)

	return err
}

func createTableSQL(t TableData) (string, error) {
	if len(t.ColumnNames) == 0 {
		return "", errors.New("column can not be empty")
	}

	sql := `CREATE TABLE IF NOT EXISTS ` + t.TableName + " ("

	if t.AutoKey {
		sql += `id INT(12) NOT NULL PRIMARY KEY AUTO_INCREMENT,`
	}

	for _, t := range t.ColumnNames {
		sql += t.Title + ` ` + t.Type + `,`
	}

	if t.PrimaryKey != "" && !t.AutoKey {
		sql += `PRIMARY KEY (` + t.PrimaryKey + `),`
	}

	sql = sql[:len(sql)-1] + `) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

	return sql, nil
}

func insertSQL(t TableData) (string, error) {
	if len(t.ColumnNames) == 0 {
		return "", errors.New("empty column")
	}
	if t.DataCount <= 0 {
		return "", errors.New("empty data")
	}

	sql := `INSERT INTO ` + t.TableName + `(`

	for _, v := range t.ColumnNames {
		sql += v.Title + ","
	}

	sql = sql[:len(sql)-1] + `) VALUES `

	blank := ",(" + strings.Repeat(",?", len(t.ColumnNames))[1:] + ")"
	sql += strings.Repeat(blank, t.DataCount)[1:]

	if t.Upsert {
		var updates []string
		for _, v := range t.ColumnNames {
			if v.Title == t.PrimaryKey {
				continue
			}
			updates = append(updates, v.Title+"=VALUES("+v.Title+")")
		}
		if len(updates) > 0 {
			sql += ` ON DUPLICATE KEY UPDATE ` + strings.Join(updates, ",")
		}
	}

	return sql + `;`, nil
}

func deleteInSQL(table, column string, n int) string {
	return `DELETE FROM ` + table + ` WHERE ` + column + ` IN (` + strings.Repeat(",?", n)[1:] + `);`
}
