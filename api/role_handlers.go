package api

import (
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-auth-rbac"
)

func (s *Server) ListRoles(c *fiber.Ctx) error {
	roles, err := s.svc.Roles.ListRoles(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(roles)
}

func (s *Server) ListPermissions(c *fiber.Ctx) error {
	perms, err := s.svc.Roles.ListPermissions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(perms)
}

func (s *Server) ListRolePermissions(c *fiber.Ctx) error {
	links, err := s.svc.Roles.ListRolePermissions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(links)
}

func (s *Server) CreateRole(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	var in auth.RoleInput
	if err := bind(c, &in); err != nil {
		return err
	}

	role, err := s.svc.Roles.CreateRole(c.UserContext(), claims, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(role)
}

func (s *Server) UpdateRole(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	var in auth.RoleInput
	if err := bind(c, &in); err != nil {
		return err
	}

	role, err := s.svc.Roles.UpdateRole(c.UserContext(), claims, id, in)
	if err != nil {
		return err
	}
	return c.JSON(role)
}

func (s *Server) DeleteRole(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	if err := s.svc.Roles.DeleteRole(c.UserContext(), claims, id); err != nil {
		return err
	}
	return c.JSON(messageResponse{Message: "role deleted"})
}

func (s *Server) UpdatePermission(c *fiber.Ctx) error {
	claims, err := claimsFrom(c)
	if err != nil {
		return err
	}

	id, err := idParam(c)
	if err != nil {
		return err
	}

	var in auth.PermissionInput
	if err := bind(c, &in); err != nil {
		return err
	}

	perm, err := s.svc.Roles.UpdatePermission(c.UserContext(), claims, id, in)
	if err != nil {
		return err
	}
	return c.JSON(perm)
}
