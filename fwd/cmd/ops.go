package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"

	"portfwd/fwd/app"
	"portfwd/fwd/common/config"
	"portfwd/fwd/common/logx"
	"portfwd/fwd/common/ttime"
)

var ops = logx.New(logx.WithPrefix("ops"))

func openStores(cfgPath string) (*app.Stores, error) {
	cfg, _, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logx.SetLevelString(cfg.Logging.Level)
	return app.OpenStores(cfg.Storage)
}

/********** 规则列表 **********/

func PrintRules(cfgPath string, w io.Writer, asJSON bool) error {
	st, err := openStores(cfgPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rules, err := st.Rules.List()
	if err != nil {
		return err
	}
	if asJSON {
		b, err := json.MarshalIndent(rules, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tTARGET\tENABLED\tCREATED")
	for _, r := range rules {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%v\t%s\n",
			r.Id, r.Name, r.SourcePort, r.Target(), r.Enabled, r.CreatedAt.Local().Format(ttime.FORMAT_DATE_TIME))
	}
	return tw.Flush()
}

/********** 日志清理（按天分区） **********/

// PurgeLogs 按 DATESPEC 删除日志分区；不存在的分区跳过
func PurgeLogs(cfgPath, dateSpec string, w io.Writer) error {
	if strings.TrimSpace(dateSpec) == "" {
		return fmt.Errorf("dateSpec required")
	}
	keys, err := ttime.ExpandDateSpec(dateSpec)
	if err != nil {
		return err
	}
	st, err := openStores(cfgPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(keys) == 0 {
		ops.Infof("[purge-log] nothing to do")
		return nil
	}
	dropped := 0
	for _, k := range keys {
		ok, err := st.Logs.Drop(k)
		if err != nil {
			return fmt.Errorf("purge %s: %w", k, err)
		}
		if !ok {
			ops.Debugf("[purge-log] skip (not exists): %s", k)
			continue
		}
		dropped++
		ops.Infof("[purge-log] dropped: %s", k)
	}
	_, err = fmt.Fprintf(w, "purged %d of %d partition(s)\n", dropped, len(keys))
	return err
}
