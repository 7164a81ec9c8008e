package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/invoice-cli/internal/extract"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/vendor"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage saved extraction templates",
}

var templateAddCmd = &cobra.Command{
	Use:   "add <file.yaml>",
	Short: "Save a template from a YAML file",
	Long: `Saves a custom extraction template. The file holds a name, an optional
vendor_id and a list of fields, each with a canonical field name and a
regular expression whose first capture group is the value. Saving a
template under an existing name replaces its fields.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		t, err := loadTemplateFile(args[0], vendor.DefaultRegistry())
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SaveTemplate(ctx, t); err != nil {
			return eris.Wrap(err, "template add")
		}
		fmt.Fprintf(os.Stdout, "Saved template %s (%s) with %d fields\n", t.Name, t.ID, len(t.Fields))
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		templates, err := st.ListTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "template list")
		}
		if len(templates) == 0 {
			fmt.Fprintln(os.Stderr, "No templates saved.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVENDOR\tFIELDS")
		for _, t := range templates {
			names := make([]string, len(t.Fields))
			for i, f := range t.Fields {
				names[i] = f.Name
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.VendorID, strings.Join(names, ","))
		}
		return tw.Flush()
	},
}

// loadTemplateFile parses a template file and checks that it compiles and
// names a registered vendor, if any.
func loadTemplateFile(path string, vendors *vendor.Registry) (*model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read template %s", path)
	}

	var t model.Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrapf(err, "parse template %s", path)
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, eris.Errorf("template %s: name is required", path)
	}
	if len(t.Fields) == 0 {
		return nil, eris.Errorf("template %s: at least one field is required", t.Name)
	}
	if t.VendorID != "" {
		p, err := vendors.Lookup(t.VendorID)
		if err != nil {
			return nil, err
		}
		t.VendorID = p.ID
	}
	if _, err := extract.NewTemplateStrategy(t); err != nil {
		return nil, err
	}
	return &t, nil
}

func init() {
	templateCmd.AddCommand(templateAddCmd, templateListCmd)
	rootCmd.AddCommand(templateCmd)
}
