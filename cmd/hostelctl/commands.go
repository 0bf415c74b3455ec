package main

import (
	"context"

	"github.com/goliatone/go-hostel"
	"github.com/spf13/pflag"
)

// action runs once the session manager is ready.
type action func(ctx context.Context, manager *hostel.SessionManager) error

// command registers its flags and returns the action bound to them.
type command func(flags *pflag.FlagSet) action

var commands = map[string]command{
	"login":    loginCommand,
	"register": registerCommand,
	"logout":   logoutCommand,
	"whoami":   whoamiCommand,
}

func loginCommand(flags *pflag.FlagSet) action {
	var email, password, role string
	flags.StringVar(&email, "email", "", "account email")
	flags.StringVar(&password, "password", "", "account password")
	flags.StringVar(&role, "role", string(hostel.RoleStudent), "role to log in as: student, caretaker or admin")

	return func(ctx context.Context, manager *hostel.SessionManager) error {
		return manager.Login(ctx, email, password, hostel.Role(role))
	}
}

func registerCommand(flags *pflag.FlagSet) action {
	var payload hostel.RegisterPayload
	var role string
	flags.StringVar(&payload.Email, "email", "", "account email")
	flags.StringVar(&payload.Password, "password", "", "account password")
	flags.StringVar(&payload.FullName, "name", "", "full name")
	flags.StringVar(&role, "role", string(hostel.RoleStudent), "student, caretaker or admin")
	flags.StringVar(&payload.HostelID, "hostel", "", "hostel id")
	flags.StringVar(&payload.RoomNumber, "room", "", "room number")
	flags.StringVar(&payload.StudentID, "student-id", "", "student id")
	flags.StringVar(&payload.Department, "department", "", "department")
	flags.StringVar(&payload.Phone, "phone", "", "contact phone")

	return func(ctx context.Context, manager *hostel.SessionManager) error {
		payload.Role = hostel.Role(role)
		return manager.Register(ctx, payload)
	}
}

func logoutCommand(*pflag.FlagSet) action {
	return func(ctx context.Context, manager *hostel.SessionManager) error {
		return manager.Logout(ctx)
	}
}

func whoamiCommand(*pflag.FlagSet) action {
	return func(context.Context, *hostel.SessionManager) error {
		return nil
	}
}
