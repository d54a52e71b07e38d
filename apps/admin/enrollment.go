package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/trezcool/shule/core/enrollment"
)

func (cli *commandLine) pending() error {
	preRegs, err := cli.enrolSvc.ListPendingPreRegistrations(context.Background())
	if err != nil {
		return err
	}
	if len(preRegs) == 0 {
		fmt.Fprintln(cli.out, "no pending pre-registrations")
		return nil
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGUARDIAN\tREGISTERED\tSTUDENTS")
	for _, p := range preRegs {
		fmt.Fprintf(w, "%d\t%d\t%s\t%v\n", p.ID, p.GuardianID, p.RegisteredAt.Format(time.RFC3339), p.StudentIDs)
	}
	return w.Flush()
}

func (cli *commandLine) decide(preRegID int64, outcome enrollment.State) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("outcome must be %s or %s (got %q)", enrollment.StateApproved, enrollment.StateRejected, outcome)
	}
	p, err := cli.enrolSvc.Decide(context.Background(), preRegID, outcome)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "pre-registration %d %s (students %v)\n", p.ID, p.State, p.StudentIDs)
	return nil
}

func (cli *commandLine) assignTeacher(teacherID, groupID int64) error {
	if err := cli.enrolSvc.AssignTeacher(context.Background(), teacherID, groupID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "teacher %d assigned to group %d\n", teacherID, groupID)
	return nil
}

func (cli *commandLine) unassignTeacher(teacherID int64) error {
	if err := cli.enrolSvc.UnassignTeacher(context.Background(), teacherID); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "teacher %d unassigned\n", teacherID)
	return nil
}

func (cli *commandLine) roster(groupID int64) error {
	students, err := cli.enrolSvc.GetRosterForGroup(context.Background(), groupID)
	if err != nil {
		return err
	}
	for i, s := range students {
		fmt.Fprintf(cli.out, "%2d. %s (%d)\n", i+1, s.DisplayName(), s.ID)
	}
	return nil
}
