package ops

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Ping checks the connection config is right
type Ping struct {
	DBConfig
}

func (cmd *Ping) Run() error {
	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelFunc()

	db, err := cmd.DBConfig.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close()

	err = db.PingContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	var now time.Time
	row := db.QueryRowContext(ctx, "SELECT NOW()")
	err = row.Scan(&now)
	if err != nil {
		return errors.WithStack(err)
	}

	log.Infof("success")
	return nil
}
