package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/shule/core/enrollment"
)

type (
	// seedFile lists reference data, e.g.
	//
	//	grades:
	//	  - name: 1st
	//	teachers:
	//	  - name: Luis Paz
	//	    email: luis@school.cd
	seedFile struct {
		Grades   []enrollment.NewGrade   `yaml:"grades"`
		Teachers []enrollment.NewTeacher `yaml:"teachers"`
	}
)

func parseSeedFile(path string) (seedFile, error) {
	var sf seedFile
	f, err := os.Open(path)
	if err != nil {
		return sf, errors.Wrap(err, "opening seed file")
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&sf); err != nil {
		return sf, errors.Wrapf(err, "parsing seed file %s", path)
	}
	return sf, nil
}

// seed creates the grades & teachers of the seed file; existing ones (same name) are skipped.
func (cli *commandLine) seed(path string) error {
	sf, err := parseSeedFile(path)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var created, skipped int
	for _, ng := range sf.Grades {
		if _, err = cli.enrolSvc.CreateGrade(ctx, ng); err != nil {
			if errors.Is(err, enrollment.ErrGradeExists) {
				skipped++
				continue
			}
			return errors.Wrapf(err, "creating grade %q", ng.Name)
		}
		created++
	}

	teachers, err := cli.enrolSvc.ListTeachers(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(teachers))
	for _, t := range teachers {
		known[strings.ToLower(t.Name)] = true
	}
	for _, nt := range sf.Teachers {
		key := strings.ToLower(strings.TrimSpace(nt.Name))
		if known[key] {
			skipped++
			continue
		}
		if _, err = cli.enrolSvc.RegisterTeacher(ctx, nt); err != nil {
			return errors.Wrapf(err, "registering teacher %q", nt.Name)
		}
		known[key] = true
		created++
	}

	fmt.Fprintf(cli.out, "seeded %d records, %d skipped\n", created, skipped)
	return nil
}
